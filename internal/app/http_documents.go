package app

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const editSessionHeader = "X-Edit-Session"

type createDocumentRequest struct {
	Title    string   `json:"title" validate:"required,max=200"`
	Content  string   `json:"content"`
	IsPublic bool     `json:"isPublic"`
	Tags     []string `json:"tags" validate:"omitempty,max=20,dive,max=40"`
}

type updateDocumentRequest struct {
	Title    *string  `json:"title" validate:"omitempty,max=200"`
	Content  *string  `json:"content"`
	IsPublic *bool    `json:"isPublic"`
	Tags     []string `json:"tags" validate:"omitempty,max=20,dive,max=40"`
}

type shareRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Permission string `json:"permission" validate:"required,oneof=view edit"`
}

type permissionRequest struct {
	Permission string `json:"permission" validate:"required,oneof=view edit"`
}

type presenceRequest struct {
	DocumentIDs []string `json:"documentIds" validate:"required,max=500,dive,required"`
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, documentListPayload(s.service.ListAccessibleDocuments(r.Context(), principalFrom(r))))
}

func (s *HTTPServer) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	payload := documentListPayload(s.service.SearchDocuments(r.Context(), principalFrom(r), query))
	payload["query"] = query
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var body createDocumentRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), user, CreateDocumentInput{
		Title:     body.Title,
		Content:   body.Content,
		IsPublic:  body.IsPublic,
		Tags:      body.Tags,
		SessionID: strings.TrimSpace(r.Header.Get(editSessionHeader)),
	})
	if err != nil {
		if errors.Is(err, ErrPartialFailure) && doc.ID != "" {
			status, code, message, details := mapError(err)
			writeJSON(w, status, map[string]any{
				"code":     code,
				"error":    message,
				"details":  details,
				"document": documentPayload(doc),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": documentPayload(doc)})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetDocument(r.Context(), principalFrom(r), chi.URLParam(r, "documentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": documentViewPayload(view)})
}

// handleUpdateDocument is the explicit save. The editing session id ties
// it to the same capture throttle the autosave loop uses.
func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var body updateDocumentRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	result, err := s.service.RecordEdit(r.Context(), user, EditRequest{
		DocumentID: chi.URLParam(r, "documentID"),
		SessionID:  strings.TrimSpace(r.Header.Get(editSessionHeader)),
		Title:      body.Title,
		Content:    body.Content,
		IsPublic:   body.IsPublic,
		Tags:       body.Tags,
		Explicit:   true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":        documentPayload(result.Document),
		"versionCaptured": result.VersionCaptured,
		"version":         result.Version,
	})
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	if err := s.service.DeleteDocument(r.Context(), user, chi.URLParam(r, "documentID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeDomainError(w, validationError("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	versions, err := s.service.GetVersions(r.Context(), principalFrom(r), chi.URLParam(r, "documentID"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionPayload(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": items})
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || number < 1 {
		writeDomainError(w, validationError("version must be a positive integer"))
		return
	}
	version, err := s.service.GetVersion(r.Context(), principalFrom(r), chi.URLParam(r, "documentID"), number)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": versionPayload(version)})
}

func (s *HTTPServer) handleListCollaborators(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListCollaborators(r.Context(), principalFrom(r), chi.URLParam(r, "documentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, collaboratorDetailPayload(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": payload})
}

func (s *HTTPServer) handleShareDocument(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var body shareRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	grant, err := s.service.ShareDocument(r.Context(), user, chi.URLParam(r, "documentID"), body.Email, body.Permission)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborator": collaboratorPayload(grant)})
}

func (s *HTTPServer) handleUpdateCollaborator(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var body permissionRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	grant, err := s.service.UpdateCollaboratorPermission(r.Context(), user,
		chi.URLParam(r, "documentID"), chi.URLParam(r, "collaboratorID"), body.Permission)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborator": collaboratorPayload(grant)})
}

func (s *HTTPServer) handleRemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	err := s.service.RemoveCollaborator(r.Context(), user, chi.URLParam(r, "documentID"), chi.URLParam(r, "collaboratorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCollaboratorPresence(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var body presenceRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": s.service.HasAnyCollaborator(r.Context(), user, body.DocumentIDs)})
}
