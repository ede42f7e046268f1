package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quire/api/internal/autosave"
	"quire/api/internal/rbac"
	"quire/api/internal/util"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4 << 20
)

// Client frames: {"type":"edit","content":"..."} and {"type":"save"}.
type editFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// editConn serialises writes; gorilla allows one concurrent writer.
type editConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *editConn) send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(payload)
}

func (c *editConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func errorFrame(err error) map[string]any {
	_, code, message, details := mapError(err)
	frame := map[string]any{"type": "error", "code": code, "error": message}
	if details != nil {
		frame["details"] = details
	}
	return frame
}

// handleEditSession runs one editing session over a WebSocket. Edits are
// debounced and saved through a single save loop; leaving the page drops
// whatever has not been saved yet.
func (s *HTTPServer) handleEditSession(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	documentID := chi.URLParam(r, "documentID")
	permission, err := s.service.EffectivePermission(r.Context(), user, documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !rbac.Can(permission, rbac.ActionWrite) {
		writeDomainError(w, ErrAccessDenied)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("documentId", documentID), zap.Error(err))
		return
	}
	client := &editConn{conn: conn}
	defer conn.Close()

	sessionID := util.NewID("edit")
	logger := s.logger.With(
		zap.String("documentId", documentID),
		zap.String("userId", user.ID),
		zap.String("sessionId", sessionID),
	)

	// Saves in flight when the socket drops still run to completion.
	saveCtx := context.WithoutCancel(r.Context())
	session := autosave.New(saveCtx, s.service.AutosaveDebounce(), func(ctx context.Context, content string, explicit bool) error {
		result, err := s.service.RecordEdit(ctx, user, EditRequest{
			DocumentID: documentID,
			SessionID:  sessionID,
			Content:    &content,
			Explicit:   explicit,
		})
		if err != nil {
			logger.Warn("autosave failed", zap.Bool("explicit", explicit), zap.Error(err))
			_ = client.send(errorFrame(err))
			return err
		}
		_ = client.send(map[string]any{
			"type":            "saved",
			"explicit":        explicit,
			"versionCaptured": result.VersionCaptured,
			"version":         result.Version,
			"updatedAt":       timestamp(result.Document.UpdatedAt),
		})
		return nil
	}, nil)
	defer session.Close()

	if err := client.send(map[string]any{"type": "ready", "sessionId": sessionID, "permission": string(permission)}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.ping(); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("edit session closed unexpectedly", zap.Error(err))
			}
			return
		}
		var frame editFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			_ = client.send(errorFrame(validationError("frames must be JSON objects")))
			continue
		}
		switch frame.Type {
		case "edit":
			session.Edit(frame.Content)
		case "save":
			_ = session.Flush(saveCtx)
		default:
			_ = client.send(errorFrame(validationError("unknown frame type " + frame.Type)))
		}
	}
}
