package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"quire/api/internal/rbac"
	"quire/api/internal/store"
	"quire/api/internal/tracing"
	"quire/api/internal/util"
)

// ShareDocument grants email's owner permission on the document, or changes
// the permission of an existing grant. There is at most one grant per
// document and user.
func (s *Service) ShareDocument(ctx context.Context, user *Principal, documentID, email, permission string) (grant store.Collaborator, err error) {
	ctx, span := tracing.Start(ctx, "app.ShareDocument", attribute.String("document.id", documentID))
	defer func() { tracing.End(span, err) }()

	if user == nil {
		return store.Collaborator{}, ErrAuthenticationRequired
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return store.Collaborator{}, validationError("A valid email is required")
	}
	if !rbac.Grantable(permission) {
		return store.Collaborator{}, validationError("Permission must be view or edit")
	}

	doc, _, err := s.authorize(ctx, user, documentID, rbac.ActionShare)
	if err != nil {
		return store.Collaborator{}, err
	}

	grantee, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Collaborator{}, ErrUserNotFound
		}
		return store.Collaborator{}, s.backendFailure("get_profile_by_email", err)
	}
	if grantee.ID == doc.AuthorID {
		return store.Collaborator{}, validationError("The author already has full access")
	}

	grant, err = s.upsertGrant(ctx, doc.ID, grantee.ID, permission, user.ID)
	if err != nil {
		return store.Collaborator{}, err
	}

	s.notify(ctx, store.Notification{
		UserID:     grantee.ID,
		DocumentID: doc.ID,
		Type:       store.NotificationShare,
		Message:    fmt.Sprintf("%s shared %q with you (%s access)", user.DisplayName(), doc.Title, permission),
	})
	s.indexDocument(ctx, doc)
	return grant, nil
}

func (s *Service) upsertGrant(ctx context.Context, documentID, userID, permission, addedBy string) (store.Collaborator, error) {
	existing, err := s.store.GetCollaborator(ctx, documentID, userID)
	switch {
	case err == nil:
		return s.setGrantPermission(ctx, existing, permission)
	case !errors.Is(err, store.ErrNotFound):
		return store.Collaborator{}, s.backendFailure("get_collaborator", err)
	}

	inserted, err := s.store.InsertCollaborator(ctx, store.Collaborator{
		ID:         util.NewID(""),
		DocumentID: documentID,
		UserID:     userID,
		Permission: permission,
		AddedBy:    addedBy,
		CreatedAt:  s.now(),
	})
	if err == nil {
		return inserted, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return store.Collaborator{}, s.backendFailure("insert_collaborator", err)
	}

	// A concurrent share inserted the pair first; update that row instead.
	existing, err = s.store.GetCollaborator(ctx, documentID, userID)
	if err != nil {
		return store.Collaborator{}, s.backendFailure("get_collaborator", err)
	}
	return s.setGrantPermission(ctx, existing, permission)
}

func (s *Service) setGrantPermission(ctx context.Context, grant store.Collaborator, permission string) (store.Collaborator, error) {
	if grant.Permission == permission {
		return grant, nil
	}
	updated, err := s.store.UpdateCollaboratorPermission(ctx, grant.ID, permission)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Collaborator{}, notFound("Collaborator")
		}
		return store.Collaborator{}, s.backendFailure("update_collaborator", err)
	}
	return updated, nil
}

// grantOnDocument loads a grant by id and checks that it belongs to the
// document the caller was authorized against.
func (s *Service) grantOnDocument(ctx context.Context, documentID, collaboratorID string) (store.Collaborator, error) {
	grant, err := s.store.GetCollaboratorByID(ctx, collaboratorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Collaborator{}, notFound("Collaborator")
		}
		return store.Collaborator{}, s.backendFailure("get_collaborator", err)
	}
	if grant.DocumentID != documentID {
		return store.Collaborator{}, notFound("Collaborator")
	}
	return grant, nil
}

func (s *Service) UpdateCollaboratorPermission(ctx context.Context, user *Principal, documentID, collaboratorID, permission string) (store.Collaborator, error) {
	if !rbac.Grantable(permission) {
		return store.Collaborator{}, validationError("Permission must be view or edit")
	}
	doc, _, err := s.authorize(ctx, user, documentID, rbac.ActionShare)
	if err != nil {
		return store.Collaborator{}, err
	}
	grant, err := s.grantOnDocument(ctx, doc.ID, collaboratorID)
	if err != nil {
		return store.Collaborator{}, err
	}
	return s.setGrantPermission(ctx, grant, permission)
}

// RemoveCollaborator hard-deletes a grant. The author's access is never
// grant-based and is unaffected.
func (s *Service) RemoveCollaborator(ctx context.Context, user *Principal, documentID, collaboratorID string) error {
	doc, _, err := s.authorize(ctx, user, documentID, rbac.ActionShare)
	if err != nil {
		return err
	}
	grant, err := s.grantOnDocument(ctx, doc.ID, collaboratorID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCollaborator(ctx, grant.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Collaborator")
		}
		return s.backendFailure("delete_collaborator", err)
	}
	s.logger.Info("collaborator removed",
		zap.String("documentId", doc.ID),
		zap.String("collaboratorId", grant.ID),
		zap.String("removedBy", user.ID),
	)
	s.indexDocument(ctx, doc)
	return nil
}

func (s *Service) ListCollaborators(ctx context.Context, user *Principal, documentID string) ([]store.CollaboratorDetail, error) {
	doc, _, err := s.authorize(ctx, user, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListCollaborators(ctx, doc.ID)
	if err != nil {
		return nil, s.backendFailure("list_collaborators", err)
	}
	if items == nil {
		items = []store.CollaboratorDetail{}
	}
	return items, nil
}

// HasAnyCollaborator answers for every id with one membership query. Ids the
// caller cannot read, and every id on failure, map to false.
func (s *Service) HasAnyCollaborator(ctx context.Context, user *Principal, documentIDs []string) map[string]bool {
	ids := store.UniqueIDs(documentIDs)
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = false
	}
	if len(ids) == 0 {
		return result
	}
	readable, err := s.readableIDs(ctx, user, ids)
	if err != nil {
		s.metrics.BackendFailure("collaborator_membership")
		s.logger.Warn("could not resolve readable documents", zap.Int("documents", len(ids)), zap.Error(err))
		return result
	}
	for id, present := range s.collaboratorPresence(ctx, readable) {
		result[id] = present
	}
	return result
}

// readableIDs keeps the ids user may read, in input order. Missing documents
// are dropped.
func (s *Service) readableIDs(ctx context.Context, user *Principal, ids []string) ([]string, error) {
	docs, err := s.store.ListDocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	grants := make(map[string]rbac.Permission)
	if user != nil {
		collaborations, err := s.store.ListCollaborationsForUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range collaborations {
			grants[g.DocumentID] = rbac.Normalize(g.Permission)
		}
	}

	allowed := make(map[string]bool, len(docs))
	for _, doc := range docs {
		isAuthor := user != nil && doc.AuthorID == user.ID
		allowed[doc.ID] = rbac.Can(rbac.Resolve(doc.IsPublic, isAuthor, grants[doc.ID]), rbac.ActionRead)
	}
	out := make([]string, 0, len(allowed))
	for _, id := range ids {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// collaboratorPresence runs the membership query for ids already known to be
// readable.
func (s *Service) collaboratorPresence(ctx context.Context, ids []string) map[string]bool {
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = false
	}
	if len(ids) == 0 {
		return result
	}

	present, err := s.store.ListDocumentIDsWithCollaborators(ctx, ids)
	if err != nil {
		s.metrics.BackendFailure("collaborator_membership")
		s.logger.Warn("collaborator membership query failed", zap.Int("documents", len(ids)), zap.Error(err))
		return result
	}
	for _, id := range present {
		if _, ok := result[id]; ok {
			result[id] = true
		}
	}
	return result
}
