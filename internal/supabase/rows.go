package supabase

import (
	"time"

	"quire/api/internal/store"
)

// Row shapes as PostgREST serialises them. Mapping goes through the store
// row checks so a malformed row never reaches the core.

type profileRow struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  *string   `json:"username"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

func (r profileRow) toProfile() (store.Profile, error) {
	return store.CheckProfile(store.Profile{
		ID:        r.ID,
		Email:     r.Email,
		Username:  deref(r.Username),
		AvatarURL: deref(r.AvatarURL),
		CreatedAt: r.CreatedAt,
	})
}

type documentRow struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	AuthorID       string    `json:"author_id"`
	IsPublic       bool      `json:"is_public"`
	CurrentVersion int       `json:"current_version"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newDocumentRow(d store.Document) documentRow {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return documentRow{
		ID:             d.ID,
		Title:          d.Title,
		Content:        d.Content,
		AuthorID:       d.AuthorID,
		IsPublic:       d.IsPublic,
		CurrentVersion: d.CurrentVersion,
		Tags:           tags,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

func (r documentRow) toDocument() (store.Document, error) {
	return store.CheckDocument(store.Document{
		ID:             r.ID,
		Title:          r.Title,
		Content:        r.Content,
		AuthorID:       r.AuthorID,
		IsPublic:       r.IsPublic,
		CurrentVersion: r.CurrentVersion,
		Tags:           r.Tags,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	})
}

type collaboratorRow struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Permission string    `json:"permission"`
	AddedBy    *string   `json:"added_by"`
	CreatedAt  time.Time `json:"created_at"`
}

func newCollaboratorRow(c store.Collaborator) collaboratorRow {
	row := collaboratorRow{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		UserID:     c.UserID,
		Permission: c.Permission,
		CreatedAt:  c.CreatedAt.UTC(),
	}
	if c.AddedBy != "" {
		row.AddedBy = &c.AddedBy
	}
	return row
}

func (r collaboratorRow) toCollaborator() (store.Collaborator, error) {
	return store.CheckCollaborator(store.Collaborator{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		UserID:     r.UserID,
		Permission: r.Permission,
		AddedBy:    deref(r.AddedBy),
		CreatedAt:  r.CreatedAt,
	})
}

type versionRow struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id"`
	Changes    string    `json:"changes"`
	CreatedAt  time.Time `json:"created_at"`
}

func newVersionRow(v store.Version) versionRow {
	return versionRow{
		ID:         v.ID,
		DocumentID: v.DocumentID,
		Version:    v.Version,
		Content:    v.Content,
		AuthorID:   v.AuthorID,
		Changes:    v.Changes,
		CreatedAt:  v.CreatedAt.UTC(),
	}
}

func (r versionRow) toVersion() (store.Version, error) {
	return store.CheckVersion(store.Version{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Version:    r.Version,
		Content:    r.Content,
		AuthorID:   r.AuthorID,
		Changes:    r.Changes,
		CreatedAt:  r.CreatedAt,
	})
}

type notificationRow struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DocumentID string    `json:"document_id"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mapRows[R any, T any](rows []R, convert func(R) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		item, err := convert(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
