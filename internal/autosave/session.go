// Package autosave debounces editor content and writes it through a single
// save loop per editing session.
package autosave

import (
	"context"
	"sync"
	"time"
)

// SaveFunc persists content. explicit is true for user-requested saves.
type SaveFunc func(ctx context.Context, content string, explicit bool) error

type Result struct {
	Explicit bool
	Err      error
}

type Session struct {
	ctx      context.Context
	debounce time.Duration
	save     SaveFunc
	onResult func(Result)

	// saveMu orders saves: content is taken and written under it, so a
	// slower save never overwrites newer content.
	saveMu sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	pending *string
	running bool
	queued  bool
	closed  bool
}

// New starts an idle session. Debounced saves run with ctx, which should live
// as long as the editing connection.
func New(ctx context.Context, debounce time.Duration, save SaveFunc, onResult func(Result)) *Session {
	return &Session{
		ctx:      ctx,
		debounce: debounce,
		save:     save,
		onResult: onResult,
	}
}

// Edit records the latest content and restarts the quiet-period timer.
func (s *Session) Edit(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = &content
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

// Flush cancels the timer and saves any unsaved content now.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return s.saveLatest(ctx, true)
}

// Close discards the pending timer and unsaved content. A save already in
// flight is allowed to finish.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Dirty reports whether there is content not yet handed to a save.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Session) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.queued = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for {
		_ = s.saveLatest(s.ctx, false)

		s.mu.Lock()
		if !s.queued || s.closed {
			s.running = false
			s.queued = false
			s.mu.Unlock()
			return
		}
		s.queued = false
		s.mu.Unlock()
	}
}

func (s *Session) saveLatest(ctx context.Context, explicit bool) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return nil
	}
	content := *s.pending
	s.pending = nil
	s.mu.Unlock()

	err := s.save(ctx, content, explicit)
	if err != nil {
		// Keep the failed content for the next attempt unless newer edits
		// already replaced it.
		s.mu.Lock()
		if s.pending == nil && !s.closed {
			s.pending = &content
		}
		s.mu.Unlock()
	}
	if s.onResult != nil {
		s.onResult(Result{Explicit: explicit, Err: err})
	}
	return err
}
