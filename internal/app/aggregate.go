package app

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"quire/api/internal/rbac"
	"quire/api/internal/search"
	"quire/api/internal/store"
	"quire/api/internal/tracing"
)

type LoadState string

const (
	StateIdle    LoadState = "idle"
	StateLoading LoadState = "loading"
	StateReady   LoadState = "ready"
	StateError   LoadState = "error"
)

const loadFailedMessage = "Could not load documents; try again"

type DocumentSummary struct {
	Document         store.Document
	LatestVersion    int
	HasCollaborators bool
	AuthorName       string
	Permission       rbac.Permission
}

// DocumentList always carries a non-nil Documents slice, empty on error.
type DocumentList struct {
	State     LoadState
	Documents []DocumentSummary
	Error     string
}

func failedList() DocumentList {
	return DocumentList{State: StateError, Documents: []DocumentSummary{}, Error: loadFailedMessage}
}

// source ranks where a document came from; lower wins on duplicates.
type source int

const (
	sourceAuthored source = iota
	sourceShared
	sourcePublic
)

type candidate struct {
	doc        store.Document
	from       source
	permission rbac.Permission
}

// ListAccessibleDocuments returns public documents, the caller's own, and
// those shared with the caller, each once, newest first. Backend failures
// become an error state rather than a Go error.
func (s *Service) ListAccessibleDocuments(ctx context.Context, user *Principal) DocumentList {
	ctx, span := tracing.Start(ctx, "app.ListAccessibleDocuments")
	defer span.End()

	list := DocumentList{State: StateLoading}
	candidates, err := s.collectAccessible(ctx, user)
	if err != nil {
		s.metrics.BackendFailure("list_documents")
		s.logger.Error("could not load accessible documents", zap.Error(err))
		span.SetAttributes(attribute.String("load.state", string(StateError)))
		return failedList()
	}

	ids := make([]string, 0, len(candidates))
	authorIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.doc.ID)
		authorIDs = append(authorIDs, c.doc.AuthorID)
	}

	latest, err := s.store.LatestVersionNumbers(ctx, ids)
	if err != nil {
		s.metrics.BackendFailure("latest_versions")
		s.logger.Error("could not load latest versions", zap.Error(err))
		return failedList()
	}
	presence := s.collaboratorPresence(ctx, ids)
	names := s.authorNames(ctx, authorIDs)

	list.Documents = make([]DocumentSummary, 0, len(candidates))
	for _, c := range candidates {
		version, ok := latest[c.doc.ID]
		if !ok {
			version = c.doc.CurrentVersion
		}
		list.Documents = append(list.Documents, DocumentSummary{
			Document:         c.doc,
			LatestVersion:    version,
			HasCollaborators: presence[c.doc.ID],
			AuthorName:       names[c.doc.AuthorID],
			Permission:       c.permission,
		})
	}
	list.State = StateReady
	span.SetAttributes(attribute.Int("documents.count", len(list.Documents)))
	return list
}

func (s *Service) collectAccessible(ctx context.Context, user *Principal) ([]candidate, error) {
	byID := make(map[string]candidate)
	add := func(docs []store.Document, from source, permission func(store.Document) rbac.Permission) {
		for _, doc := range docs {
			if existing, ok := byID[doc.ID]; ok && existing.from <= from {
				continue
			}
			byID[doc.ID] = candidate{doc: doc, from: from, permission: permission(doc)}
		}
	}

	if user != nil {
		authored, err := s.store.ListDocumentsByAuthor(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		add(authored, sourceAuthored, func(store.Document) rbac.Permission { return rbac.PermissionEdit })

		grants, err := s.store.ListCollaborationsForUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		grantByDoc := make(map[string]rbac.Permission, len(grants))
		sharedIDs := make([]string, 0, len(grants))
		for _, g := range grants {
			grantByDoc[g.DocumentID] = rbac.Normalize(g.Permission)
			sharedIDs = append(sharedIDs, g.DocumentID)
		}
		if len(sharedIDs) > 0 {
			shared, err := s.store.ListDocumentsByIDs(ctx, sharedIDs)
			if err != nil {
				return nil, err
			}
			add(shared, sourceShared, func(doc store.Document) rbac.Permission {
				return rbac.Resolve(doc.IsPublic, doc.AuthorID == user.ID, grantByDoc[doc.ID])
			})
		}
	}

	public, err := s.store.ListPublicDocuments(ctx)
	if err != nil {
		return nil, err
	}
	add(public, sourcePublic, func(doc store.Document) rbac.Permission {
		return rbac.Resolve(true, user != nil && doc.AuthorID == user.ID, rbac.PermissionNone)
	})

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].doc, out[j].doc
		if a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.ID < b.ID
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	return out, nil
}

// authorNames degrades to blank names when profiles cannot be loaded.
func (s *Service) authorNames(ctx context.Context, authorIDs []string) map[string]string {
	names := make(map[string]string)
	profiles, err := s.store.ListProfilesByIDs(ctx, authorIDs)
	if err != nil {
		s.logger.Warn("could not load author profiles", zap.Error(err))
		return names
	}
	for _, p := range profiles {
		names[p.ID] = p.DisplayName()
	}
	return names
}

// SearchDocuments filters the accessible set by title and stripped content.
// A blank query returns the set unchanged. Matches keep the listing order
// (newest first) unless the search index is healthy, in which case they come
// back in index rank order, with any match the index did not rank kept after
// the ranked ones in listing order.
func (s *Service) SearchDocuments(ctx context.Context, user *Principal, query string) DocumentList {
	list := s.ListAccessibleDocuments(ctx, user)
	if list.State != StateReady || strings.TrimSpace(query) == "" {
		return list
	}
	list.Documents = search.Filter(list.Documents, query, func(d DocumentSummary) (string, string) {
		return d.Document.Title, d.Document.Content
	})
	if len(list.Documents) < 2 {
		return list
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}
	if ranked := s.search.Rank(query, userID, searchRankLimit); len(ranked) > 0 {
		list.Documents = search.Order(list.Documents, ranked, func(d DocumentSummary) string { return d.Document.ID })
	}
	return list
}
