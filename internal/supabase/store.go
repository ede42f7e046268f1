// Package supabase implements store.Store over the Supabase PostgREST API.
// Calls run with the service-role key behind a circuit breaker, so the core's
// access checks are the only authority.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sony/gobreaker"
	"github.com/supabase-community/postgrest-go"
	"go.uber.org/zap"

	"quire/api/internal/metrics"
	"quire/api/internal/store"
)

const (
	tableProfiles      = "profiles"
	tableDocuments     = "documents"
	tableCollaborators = "document_collaborators"
	tableVersions      = "document_versions"
	tableNotifications = "notifications"
)

// Querier is satisfied by *supabase.Client and *postgrest.Client.
type Querier interface {
	From(table string) *postgrest.QueryBuilder
}

type Store struct {
	client  Querier
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Collector
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

func New(client Querier, cfg BreakerConfig, logger *zap.Logger, collector *metrics.Collector) *Store {
	return &Store{
		client:  client,
		breaker: newBreaker(cfg, logger, collector),
		metrics: collector,
		logger:  logger,
	}
}

func (s *Store) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return err
	}
	s.metrics.BackendFailure(op)
	s.logger.Warn("supabase request failed", zap.String("operation", op), zap.Error(err))
	return fmt.Errorf("supabase %s: %w", op, err)
}

// translate maps PostgREST error codes, which postgrest-go only exposes in the
// error text, onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "23505"):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case strings.Contains(msg, "PGRST116"):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
}

func execute(builder *postgrest.FilterBuilder, dest any) error {
	_, err := builder.ExecuteTo(dest)
	return translate(err)
}

func first[R any](rows []R) (R, error) {
	var zero R
	if len(rows) == 0 {
		return zero, store.ErrNotFound
	}
	return rows[0], nil
}

// pageSize stays under Supabase's default max-rows of 1000.
const pageSize = 500

// fetchAll pages through a query until a page comes back empty. The server may
// cap a page below pageSize, so a short page is not the end. build must order
// on a unique key.
func fetchAll[R any](ctx context.Context, s *Store, op string, build func() *postgrest.FilterBuilder) ([]R, error) {
	var (
		all    []R
		offset int
	)
	for {
		var page []R
		err := s.run(ctx, op, func() error {
			return execute(build().Range(offset, offset+pageSize-1, ""), &page)
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		offset += len(page)
	}
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.TrimSpace(value))
}

func (s *Store) Ping(ctx context.Context) error {
	return s.run(ctx, "ping", func() error {
		var rows []struct {
			ID string `json:"id"`
		}
		return execute(s.client.From(tableDocuments).Select("id", "", false).Limit(1, ""), &rows)
	})
}

// Profiles

func (s *Store) getProfile(ctx context.Context, op string, build func() *postgrest.FilterBuilder) (store.Profile, error) {
	var rows []profileRow
	if err := s.run(ctx, op, func() error { return execute(build(), &rows) }); err != nil {
		return store.Profile{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Profile{}, err
	}
	return row.toProfile()
}

func (s *Store) GetProfileByID(ctx context.Context, id string) (store.Profile, error) {
	return s.getProfile(ctx, "get_profile", func() *postgrest.FilterBuilder {
		return s.client.From(tableProfiles).Select("*", "", false).Eq("id", id).Limit(1, "")
	})
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (store.Profile, error) {
	return s.getProfile(ctx, "get_profile_by_email", func() *postgrest.FilterBuilder {
		return s.client.From(tableProfiles).Select("*", "", false).Ilike("email", escapeLike(email)).Limit(1, "")
	})
}

func (s *Store) GetProfileByUsername(ctx context.Context, username string) (store.Profile, error) {
	return s.getProfile(ctx, "get_profile_by_username", func() *postgrest.FilterBuilder {
		return s.client.From(tableProfiles).Select("*", "", false).
			Ilike("username", escapeLike(username)).
			Order("created_at", &postgrest.OrderOpts{Ascending: true}).
			Limit(1, "")
	})
}

func (s *Store) ListProfilesByIDs(ctx context.Context, ids []string) ([]store.Profile, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return []store.Profile{}, nil
	}
	var rows []profileRow
	err := s.run(ctx, "list_profiles", func() error {
		return execute(s.client.From(tableProfiles).Select("*", "", false).In("id", ids), &rows)
	})
	if err != nil {
		return nil, err
	}
	return mapRows(rows, profileRow.toProfile)
}

// Documents

func (s *Store) listDocuments(ctx context.Context, op string, build func() *postgrest.FilterBuilder) ([]store.Document, error) {
	var rows []documentRow
	err := s.run(ctx, op, func() error {
		return execute(build().Order("updated_at", &postgrest.OrderOpts{Ascending: false}), &rows)
	})
	if err != nil {
		return nil, err
	}
	docs, err := mapRows(rows, documentRow.toDocument)
	if err != nil {
		return nil, err
	}
	sortDocuments(docs)
	return docs, nil
}

// sortDocuments applies the id tie-break PostgREST ordering cannot express
// stably across pages.
func sortDocuments(docs []store.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
}

func (s *Store) GetDocument(ctx context.Context, id string) (store.Document, error) {
	var rows []documentRow
	err := s.run(ctx, "get_document", func() error {
		return execute(s.client.From(tableDocuments).Select("*", "", false).Eq("id", id).Limit(1, ""), &rows)
	})
	if err != nil {
		return store.Document{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Document{}, err
	}
	return row.toDocument()
}

func (s *Store) ListPublicDocuments(ctx context.Context) ([]store.Document, error) {
	return s.listDocuments(ctx, "list_public_documents", func() *postgrest.FilterBuilder {
		return s.client.From(tableDocuments).Select("*", "", false).Eq("is_public", "true")
	})
}

func (s *Store) ListDocumentsByAuthor(ctx context.Context, authorID string) ([]store.Document, error) {
	return s.listDocuments(ctx, "list_authored_documents", func() *postgrest.FilterBuilder {
		return s.client.From(tableDocuments).Select("*", "", false).Eq("author_id", authorID)
	})
}

func (s *Store) ListDocumentsByIDs(ctx context.Context, ids []string) ([]store.Document, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return []store.Document{}, nil
	}
	return s.listDocuments(ctx, "list_documents_by_ids", func() *postgrest.FilterBuilder {
		return s.client.From(tableDocuments).Select("*", "", false).In("id", ids)
	})
}

func (s *Store) InsertDocument(ctx context.Context, doc store.Document) (store.Document, error) {
	doc, err := store.CheckDocument(doc)
	if err != nil {
		return store.Document{}, err
	}
	var rows []documentRow
	err = s.run(ctx, "insert_document", func() error {
		return execute(s.client.From(tableDocuments).Insert(newDocumentRow(doc), false, "", "representation", ""), &rows)
	})
	if err != nil {
		return store.Document{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Document{}, err
	}
	return row.toDocument()
}

func (s *Store) UpdateDocument(ctx context.Context, id string, update store.DocumentUpdate) (store.Document, error) {
	values := map[string]any{"updated_at": update.UpdatedAt.UTC()}
	if update.Title != nil {
		values["title"] = *update.Title
	}
	if update.Content != nil {
		values["content"] = *update.Content
	}
	if update.IsPublic != nil {
		values["is_public"] = *update.IsPublic
	}
	if update.Tags != nil {
		values["tags"] = update.Tags
	}
	if update.CurrentVersion != nil {
		values["current_version"] = *update.CurrentVersion
	}

	var rows []documentRow
	err := s.run(ctx, "update_document", func() error {
		return execute(s.client.From(tableDocuments).Update(values, "representation", "").Eq("id", id), &rows)
	})
	if err != nil {
		return store.Document{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Document{}, err
	}
	return row.toDocument()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	var rows []documentRow
	err := s.run(ctx, "delete_document", func() error {
		return execute(s.client.From(tableDocuments).Delete("representation", "").Eq("id", id), &rows)
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Collaborators

func (s *Store) getCollaborator(ctx context.Context, op string, build func() *postgrest.FilterBuilder) (store.Collaborator, error) {
	var rows []collaboratorRow
	if err := s.run(ctx, op, func() error { return execute(build(), &rows) }); err != nil {
		return store.Collaborator{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Collaborator{}, err
	}
	return row.toCollaborator()
}

func (s *Store) GetCollaborator(ctx context.Context, documentID, userID string) (store.Collaborator, error) {
	return s.getCollaborator(ctx, "get_collaborator", func() *postgrest.FilterBuilder {
		return s.client.From(tableCollaborators).Select("*", "", false).
			Eq("document_id", documentID).Eq("user_id", userID).Limit(1, "")
	})
}

func (s *Store) GetCollaboratorByID(ctx context.Context, id string) (store.Collaborator, error) {
	return s.getCollaborator(ctx, "get_collaborator", func() *postgrest.FilterBuilder {
		return s.client.From(tableCollaborators).Select("*", "", false).Eq("id", id).Limit(1, "")
	})
}

func (s *Store) ListCollaborators(ctx context.Context, documentID string) ([]store.CollaboratorDetail, error) {
	var rows []collaboratorRow
	err := s.run(ctx, "list_collaborators", func() error {
		return execute(s.client.From(tableCollaborators).Select("*", "", false).
			Eq("document_id", documentID).
			Order("created_at", &postgrest.OrderOpts{Ascending: true}), &rows)
	})
	if err != nil {
		return nil, err
	}
	grants, err := mapRows(rows, collaboratorRow.toCollaborator)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(grants))
	for _, g := range grants {
		userIDs = append(userIDs, g.UserID)
	}
	profiles, err := s.ListProfilesByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	items := make([]store.CollaboratorDetail, 0, len(grants))
	for _, g := range grants {
		p := byID[g.UserID]
		items = append(items, store.CollaboratorDetail{Collaborator: g, Username: p.Username, Email: p.Email})
	}
	return items, nil
}

func (s *Store) ListCollaborationsForUser(ctx context.Context, userID string) ([]store.Collaborator, error) {
	var rows []collaboratorRow
	err := s.run(ctx, "list_collaborations", func() error {
		return execute(s.client.From(tableCollaborators).Select("*", "", false).Eq("user_id", userID), &rows)
	})
	if err != nil {
		return nil, err
	}
	return mapRows(rows, collaboratorRow.toCollaborator)
}

func (s *Store) ListDocumentIDsWithCollaborators(ctx context.Context, documentIDs []string) ([]string, error) {
	documentIDs = store.UniqueIDs(documentIDs)
	if len(documentIDs) == 0 {
		return []string{}, nil
	}
	type membershipRow struct {
		DocumentID string `json:"document_id"`
	}
	rows, err := fetchAll[membershipRow](ctx, s, "collaborator_membership", func() *postgrest.FilterBuilder {
		return s.client.From(tableCollaborators).Select("document_id", "", false).
			In("document_id", documentIDs).
			Order("document_id", &postgrest.OrderOpts{Ascending: true}).
			Order("id", &postgrest.OrderOpts{Ascending: true})
	})
	if err != nil {
		return nil, err
	}
	present := make([]string, 0, len(rows))
	for _, row := range rows {
		present = append(present, row.DocumentID)
	}
	return store.UniqueIDs(present), nil
}

func (s *Store) InsertCollaborator(ctx context.Context, grant store.Collaborator) (store.Collaborator, error) {
	grant, err := store.CheckCollaborator(grant)
	if err != nil {
		return store.Collaborator{}, err
	}
	var rows []collaboratorRow
	err = s.run(ctx, "insert_collaborator", func() error {
		return execute(s.client.From(tableCollaborators).Insert(newCollaboratorRow(grant), false, "", "representation", ""), &rows)
	})
	if err != nil {
		return store.Collaborator{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Collaborator{}, err
	}
	return row.toCollaborator()
}

func (s *Store) UpdateCollaboratorPermission(ctx context.Context, id, permission string) (store.Collaborator, error) {
	var rows []collaboratorRow
	err := s.run(ctx, "update_collaborator", func() error {
		return execute(s.client.From(tableCollaborators).
			Update(map[string]any{"permission": permission}, "representation", "").Eq("id", id), &rows)
	})
	if err != nil {
		return store.Collaborator{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Collaborator{}, err
	}
	return row.toCollaborator()
}

func (s *Store) DeleteCollaborator(ctx context.Context, id string) error {
	var rows []collaboratorRow
	err := s.run(ctx, "delete_collaborator", func() error {
		return execute(s.client.From(tableCollaborators).Delete("representation", "").Eq("id", id), &rows)
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Versions

func (s *Store) InsertVersion(ctx context.Context, version store.Version) (store.Version, error) {
	version, err := store.CheckVersion(version)
	if err != nil {
		return store.Version{}, err
	}
	var rows []versionRow
	err = s.run(ctx, "insert_version", func() error {
		return execute(s.client.From(tableVersions).Insert(newVersionRow(version), false, "", "representation", ""), &rows)
	})
	if err != nil {
		return store.Version{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Version{}, err
	}
	return row.toVersion()
}

func (s *Store) ListVersions(ctx context.Context, documentID string, limit int) ([]store.Version, error) {
	var rows []versionRow
	err := s.run(ctx, "list_versions", func() error {
		builder := s.client.From(tableVersions).Select("*", "", false).
			Eq("document_id", documentID).
			Order("version", &postgrest.OrderOpts{Ascending: false})
		if limit > 0 {
			builder = builder.Limit(limit, "")
		}
		return execute(builder, &rows)
	})
	if err != nil {
		return nil, err
	}
	return mapRows(rows, versionRow.toVersion)
}

func (s *Store) GetVersion(ctx context.Context, documentID string, number int) (store.Version, error) {
	var rows []versionRow
	err := s.run(ctx, "get_version", func() error {
		return execute(s.client.From(tableVersions).Select("*", "", false).
			Eq("document_id", documentID).
			Eq("version", fmt.Sprint(number)).
			Limit(1, ""), &rows)
	})
	if err != nil {
		return store.Version{}, err
	}
	row, err := first(rows)
	if err != nil {
		return store.Version{}, err
	}
	return row.toVersion()
}

func (s *Store) GetLatestVersion(ctx context.Context, documentID string) (store.Version, error) {
	versions, err := s.ListVersions(ctx, documentID, 1)
	if err != nil {
		return store.Version{}, err
	}
	return first(versions)
}

func (s *Store) LatestVersionNumbers(ctx context.Context, documentIDs []string) (map[string]int, error) {
	documentIDs = store.UniqueIDs(documentIDs)
	latest := make(map[string]int, len(documentIDs))
	if len(documentIDs) == 0 {
		return latest, nil
	}
	type versionRow struct {
		DocumentID string `json:"document_id"`
		Version    int    `json:"version"`
	}
	rows, err := fetchAll[versionRow](ctx, s, "latest_versions", func() *postgrest.FilterBuilder {
		return s.client.From(tableVersions).Select("document_id,version", "", false).
			In("document_id", documentIDs).
			Order("document_id", &postgrest.OrderOpts{Ascending: true}).
			Order("version", &postgrest.OrderOpts{Ascending: false})
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Version > latest[row.DocumentID] {
			latest[row.DocumentID] = row.Version
		}
	}
	return latest, nil
}

// Notifications

func (s *Store) InsertNotification(ctx context.Context, n store.Notification) error {
	row := notificationRow{
		ID:         n.ID,
		UserID:     n.UserID,
		DocumentID: n.DocumentID,
		Type:       n.Type,
		Message:    n.Message,
		CreatedAt:  n.CreatedAt.UTC(),
	}
	return s.run(ctx, "insert_notification", func() error {
		_, _, err := s.client.From(tableNotifications).Insert(row, false, "", "minimal", "").Execute()
		return translate(err)
	})
}
