package app

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"quire/api/internal/rbac"
	"quire/api/internal/store"
	"quire/api/internal/tracing"
	"quire/api/internal/util"
)

const (
	changesCreated = "Document created"
	changesUpdated = "Content updated"
)

type CreateDocumentInput struct {
	Title     string
	Content   string
	IsPublic  bool
	Tags      []string
	SessionID string
}

// EditRequest is one save of an editing session. Nil fields are left as
// they are.
type EditRequest struct {
	DocumentID string
	SessionID  string
	Title      *string
	Content    *string
	IsPublic   *bool
	Tags       []string
	Explicit   bool
}

type EditResult struct {
	Document        store.Document
	VersionCaptured bool
	Version         int
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validationError("Title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", validationError("Title must be 200 characters or fewer")
	}
	return title, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// CreateDocument inserts the document and its first version. A failed
// version insert leaves the document in place and is reported as a partial
// failure alongside it.
func (s *Service) CreateDocument(ctx context.Context, user *Principal, input CreateDocumentInput) (doc store.Document, err error) {
	ctx, span := tracing.Start(ctx, "app.CreateDocument")
	defer func() { tracing.End(span, err) }()

	if user == nil {
		return store.Document{}, ErrAuthenticationRequired
	}
	title, err := normalizeTitle(input.Title)
	if err != nil {
		return store.Document{}, err
	}

	now := s.now()
	created, err := s.store.InsertDocument(ctx, store.Document{
		ID:             util.NewID(""),
		Title:          title,
		Content:        input.Content,
		AuthorID:       user.ID,
		IsPublic:       input.IsPublic,
		CurrentVersion: 1,
		Tags:           normalizeTags(input.Tags),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return store.Document{}, s.backendFailure("insert_document", err)
	}
	span.SetAttributes(attribute.String("document.id", created.ID))

	if _, err := s.store.InsertVersion(ctx, store.Version{
		ID:         util.NewID(""),
		DocumentID: created.ID,
		Version:    1,
		Content:    created.Content,
		AuthorID:   user.ID,
		Changes:    changesCreated,
		CreatedAt:  now,
	}); err != nil {
		s.metrics.BackendFailure("insert_version")
		s.logger.Error("document created without its first version",
			zap.String("documentId", created.ID),
			zap.Error(err),
		)
		return created, partialFailure("Document was created but its history could not be started", map[string]any{
			"documentId": created.ID,
		})
	}
	s.metrics.VersionCaptured()
	s.markCaptured(ctx, input.SessionID, created.ID, now)

	s.notifyMentions(ctx, user, created, "", created.Content)
	s.indexDocument(ctx, created)
	return created, nil
}

// RecordEdit writes the edit to the document row, then appends a version
// when the session's throttle window has elapsed and the content differs
// from the newest snapshot. Explicit saves follow the same throttle.
func (s *Service) RecordEdit(ctx context.Context, user *Principal, req EditRequest) (result EditResult, err error) {
	ctx, span := tracing.Start(ctx, "app.RecordEdit",
		attribute.String("document.id", req.DocumentID),
		attribute.Bool("save.explicit", req.Explicit),
	)
	defer func() { tracing.End(span, err) }()

	doc, _, err := s.authorize(ctx, user, req.DocumentID, rbac.ActionWrite)
	if err != nil {
		return EditResult{}, err
	}

	now := s.now()
	update := store.DocumentUpdate{
		Content:   req.Content,
		IsPublic:  req.IsPublic,
		UpdatedAt: now,
	}
	if req.Title != nil {
		title, err := normalizeTitle(*req.Title)
		if err != nil {
			return EditResult{}, err
		}
		update.Title = &title
	}
	if req.Tags != nil {
		update.Tags = normalizeTags(req.Tags)
	}

	content := doc.Content
	if req.Content != nil {
		content = *req.Content
	}
	capture, latest, err := s.shouldCapture(ctx, req.SessionID, doc.ID, content, now)
	if err != nil {
		return EditResult{}, err
	}

	updated, err := s.store.UpdateDocument(ctx, doc.ID, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return EditResult{}, notFound("Document")
		}
		return EditResult{}, s.backendFailure("update_document", err)
	}
	result = EditResult{Document: updated, Version: latest}

	if capture {
		version, err := s.appendVersion(ctx, doc.ID, content, user.ID, latest)
		if err != nil {
			return result, err
		}
		result.VersionCaptured = true
		result.Version = version.Version

		number := version.Version
		withVersion, err := s.store.UpdateDocument(ctx, doc.ID, store.DocumentUpdate{CurrentVersion: &number, UpdatedAt: now})
		if err != nil {
			// The version row is authoritative; the counter catches up on
			// the next capture.
			s.metrics.BackendFailure("update_current_version")
			s.logger.Warn("could not advance current_version",
				zap.String("documentId", doc.ID),
				zap.Int("version", number),
				zap.Error(err),
			)
			result.Document.CurrentVersion = number
		} else {
			result.Document = withVersion
		}
		s.markCaptured(ctx, req.SessionID, doc.ID, now)
	} else {
		s.metrics.SaveThrottled()
	}
	span.SetAttributes(attribute.Bool("version.captured", result.VersionCaptured))

	s.notifyMentions(ctx, user, result.Document, doc.Content, content)
	s.indexDocument(ctx, result.Document)
	return result, nil
}

// shouldCapture reports whether this save should append a version, along
// with the newest existing version number (0 when none exists).
func (s *Service) shouldCapture(ctx context.Context, sessionID, documentID, content string, now time.Time) (bool, int, error) {
	latest, err := s.store.GetLatestVersion(ctx, documentID)
	hasLatest := true
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return false, 0, s.backendFailure("get_latest_version", err)
		}
		hasLatest = false
	}

	var last time.Time
	found := false
	if sessionID != "" {
		last, found, err = s.captures.LastCapture(ctx, sessionID, documentID)
		if err != nil {
			s.logger.Warn("capture timestamp unavailable; using latest version time",
				zap.String("documentId", documentID),
				zap.Error(err),
			)
			found = false
		}
	}
	if !found && hasLatest {
		last = latest.CreatedAt
	}

	if hasLatest && latest.Content == content {
		return false, latest.Version, nil
	}
	if !hasLatest {
		return true, 0, nil
	}
	return now.Sub(last) >= s.versionThrottle, latest.Version, nil
}

// appendVersion inserts previousMax+1, recomputing the number when another
// writer took it first.
func (s *Service) appendVersion(ctx context.Context, documentID, content, authorID string, previousMax int) (store.Version, error) {
	next := previousMax + 1
	for attempt := 1; attempt <= versionInsertAttempts; attempt++ {
		version, err := s.store.InsertVersion(ctx, store.Version{
			ID:         util.NewID(""),
			DocumentID: documentID,
			Version:    next,
			Content:    content,
			AuthorID:   authorID,
			Changes:    changesUpdated,
			CreatedAt:  s.now(),
		})
		if err == nil {
			s.metrics.VersionCaptured()
			return version, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return store.Version{}, s.backendFailure("insert_version", err)
		}

		s.metrics.VersionConflict()
		s.logger.Info("version number taken; retrying",
			zap.String("documentId", documentID),
			zap.Int("version", next),
			zap.Int("attempt", attempt),
		)
		latest, err := s.store.GetLatestVersion(ctx, documentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Version{}, s.backendFailure("get_latest_version", err)
		}
		next = latest.Version + 1
	}
	return store.Version{}, ErrConflict
}

func (s *Service) markCaptured(ctx context.Context, sessionID, documentID string, at time.Time) {
	if sessionID == "" {
		return
	}
	if err := s.captures.MarkCaptured(ctx, sessionID, documentID, at); err != nil {
		s.logger.Warn("could not record capture time",
			zap.String("documentId", documentID),
			zap.Error(err),
		)
	}
}
