package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"quire/api/internal/markup"
	"quire/api/internal/rbac"
	"quire/api/internal/search"
	"quire/api/internal/store"
	"quire/api/internal/util"
)

// notify records a notification. Failures are logged and never reach the
// caller.
func (s *Service) notify(ctx context.Context, n store.Notification) {
	n.ID = util.NewID("")
	n.CreatedAt = s.now()
	if err := s.store.InsertNotification(ctx, n); err != nil {
		s.metrics.BackendFailure("insert_notification")
		s.logger.Warn("notification dropped",
			zap.String("type", n.Type),
			zap.String("documentId", n.DocumentID),
			zap.String("userId", n.UserID),
			zap.Error(err),
		)
	}
}

// notifyMentions notifies users newly @mentioned in content who can open the
// document. The actor is never notified about their own mention.
func (s *Service) notifyMentions(ctx context.Context, actor *Principal, doc store.Document, before, after string) {
	for _, username := range markup.NewMentions(before, after) {
		profile, err := s.store.GetProfileByUsername(ctx, username)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("mention lookup failed", zap.String("username", username), zap.Error(err))
			}
			continue
		}
		if profile.ID == actor.ID {
			continue
		}
		recipient := &Principal{ID: profile.ID, Email: profile.Email, Username: profile.Username}
		if !rbac.Can(s.effectivePermission(ctx, doc, recipient), rbac.ActionRead) {
			continue
		}
		s.notify(ctx, store.Notification{
			UserID:     profile.ID,
			DocumentID: doc.ID,
			Type:       store.NotificationMention,
			Message:    fmt.Sprintf("%s mentioned you in %q", actor.DisplayName(), doc.Title),
		})
	}
}

// indexDocument pushes doc to the search index with the ids of everyone it
// is shared with.
func (s *Service) indexDocument(ctx context.Context, doc store.Document) {
	if !s.search.Available() {
		return
	}
	s.search.IndexDocument(s.searchRecord(ctx, doc))
}

func (s *Service) searchRecord(ctx context.Context, doc store.Document) search.DocumentRecord {
	record := search.DocumentRecord{
		ID:              doc.ID,
		Title:           doc.Title,
		Text:            markup.StripTags(doc.Content),
		AuthorID:        doc.AuthorID,
		IsPublic:        doc.IsPublic,
		CollaboratorIDs: []string{},
		Tags:            doc.Tags,
		UpdatedAt:       doc.UpdatedAt.Unix(),
	}
	grants, err := s.store.ListCollaborators(ctx, doc.ID)
	if err != nil {
		s.logger.Warn("indexing without collaborators", zap.String("documentId", doc.ID), zap.Error(err))
		return record
	}
	for _, g := range grants {
		record.CollaboratorIDs = append(record.CollaboratorIDs, g.UserID)
	}
	return record
}

// Reindex loads every public document into the search index at startup.
// Private documents are indexed as they are written.
func (s *Service) Reindex(ctx context.Context) {
	if !s.search.Available() {
		return
	}
	public, err := s.store.ListPublicDocuments(ctx)
	if err != nil {
		s.logger.Warn("reindex: list public documents", zap.Error(err))
		return
	}
	records := make([]search.DocumentRecord, 0, len(public))
	for _, doc := range public {
		records = append(records, s.searchRecord(ctx, doc))
	}
	s.search.Reindex(records)
}
