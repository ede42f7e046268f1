package app

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"quire/api/internal/rbac"
	"quire/api/internal/store"
	"quire/api/internal/tracing"
)

// DocumentView is a document as one caller may see it.
type DocumentView struct {
	Document   store.Document
	Permission rbac.Permission
	IsAuthor   bool
	CanEdit    bool
}

// effectivePermission resolves what user may do with doc. A failed grant
// lookup counts as no grant.
func (s *Service) effectivePermission(ctx context.Context, doc store.Document, user *Principal) rbac.Permission {
	if user == nil {
		return rbac.Resolve(doc.IsPublic, false, rbac.PermissionNone)
	}
	if user.ID == doc.AuthorID {
		return rbac.PermissionEdit
	}

	grant := rbac.PermissionNone
	collaborator, err := s.store.GetCollaborator(ctx, doc.ID, user.ID)
	switch {
	case err == nil:
		grant = rbac.Normalize(collaborator.Permission)
	case errors.Is(err, store.ErrNotFound):
	default:
		s.metrics.BackendFailure("grant_lookup")
		s.logger.Warn("grant lookup failed; treating as no access",
			zap.String("documentId", doc.ID),
			zap.String("userId", user.ID),
			zap.Error(err),
		)
	}
	return rbac.Resolve(doc.IsPublic, false, grant)
}

// EffectivePermission loads the document and resolves the caller's permission.
func (s *Service) EffectivePermission(ctx context.Context, user *Principal, documentID string) (rbac.Permission, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return rbac.PermissionNone, err
	}
	return s.effectivePermission(ctx, doc, user), nil
}

func (s *Service) loadDocument(ctx context.Context, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Document{}, notFound("Document")
		}
		return store.Document{}, s.backendFailure("get_document", err)
	}
	return doc, nil
}

// authorize loads the document and checks action against the caller's
// effective permission. Mutating actions need a signed-in caller.
func (s *Service) authorize(ctx context.Context, user *Principal, documentID string, action rbac.Action) (store.Document, rbac.Permission, error) {
	if user == nil && action != rbac.ActionRead {
		return store.Document{}, rbac.PermissionNone, ErrAuthenticationRequired
	}
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, rbac.PermissionNone, err
	}
	permission := s.effectivePermission(ctx, doc, user)
	if !rbac.Can(permission, action) {
		s.metrics.Denied(string(action))
		return store.Document{}, permission, ErrAccessDenied
	}
	return doc, permission, nil
}

func (s *Service) GetDocument(ctx context.Context, user *Principal, documentID string) (view DocumentView, err error) {
	ctx, span := tracing.Start(ctx, "app.GetDocument", attribute.String("document.id", documentID))
	defer func() { tracing.End(span, err) }()

	doc, permission, err := s.authorize(ctx, user, documentID, rbac.ActionRead)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{
		Document:   doc,
		Permission: permission,
		IsAuthor:   user != nil && user.ID == doc.AuthorID,
		CanEdit:    rbac.Can(permission, rbac.ActionWrite),
	}, nil
}

// DeleteDocument is reserved to the author. Grants and versions go with the
// document.
func (s *Service) DeleteDocument(ctx context.Context, user *Principal, documentID string) error {
	if user == nil {
		return ErrAuthenticationRequired
	}
	doc, _, err := s.authorize(ctx, user, documentID, rbac.ActionRead)
	if err != nil {
		return err
	}
	if doc.AuthorID != user.ID {
		s.metrics.Denied("delete")
		return ErrAccessDenied
	}
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Document")
		}
		return s.backendFailure("delete_document", err)
	}
	s.search.DeleteDocument(doc.ID)
	s.logger.Info("document deleted", zap.String("documentId", doc.ID), zap.String("userId", user.ID))
	return nil
}

// backendFailure logs the cause and hides it behind BACKEND_UNAVAILABLE.
func (s *Service) backendFailure(operation string, err error) error {
	s.metrics.BackendFailure(operation)
	s.logger.Error("backend call failed", zap.String("operation", operation), zap.Error(err))
	return ErrBackendUnavailable
}
