package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

var (
	_ Store           = (*PostgresStore)(nil)
	_ CredentialStore = (*PostgresStore)(nil)
)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const profileColumns = `id, email, username, avatar_url, created_at`

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.Username, &p.AvatarURL, &p.CreatedAt); err != nil {
		return Profile{}, notFound(err)
	}
	return CheckProfile(p)
}

const documentColumns = `id, title, content, author_id, is_public, current_version, tags, created_at, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var (
		d    Document
		tags []byte
	)
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.AuthorID, &d.IsPublic, &d.CurrentVersion, &tags, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Document{}, notFound(err)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &d.Tags); err != nil {
			return Document{}, fmt.Errorf("%w: document %s tags: %v", ErrMalformedRow, d.ID, err)
		}
	}
	return CheckDocument(d)
}

const collaboratorColumns = `id, document_id, user_id, permission, added_by, created_at`

func scanCollaborator(row rowScanner) (Collaborator, error) {
	var c Collaborator
	if err := row.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.Permission, &c.AddedBy, &c.CreatedAt); err != nil {
		return Collaborator{}, notFound(err)
	}
	return CheckCollaborator(c)
}

const versionColumns = `id, document_id, version, content, author_id, changes, created_at`

func scanVersion(row rowScanner) (Version, error) {
	var v Version
	if err := row.Scan(&v.ID, &v.DocumentID, &v.Version, &v.Content, &v.AuthorID, &v.Changes, &v.CreatedAt); err != nil {
		return Version{}, notFound(err)
	}
	return CheckVersion(v)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// Profiles

func (s *PostgresStore) GetProfileByID(ctx context.Context, id string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, id)
	return scanProfile(row)
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE LOWER(email)=LOWER($1)`, strings.TrimSpace(email))
	return scanProfile(row)
}

func (s *PostgresStore) GetProfileByUsername(ctx context.Context, username string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM profiles
		WHERE LOWER(username)=LOWER($1)
		ORDER BY created_at ASC
		LIMIT 1
	`, username)
	return scanProfile(row)
}

func (s *PostgresStore) ListProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error) {
	ids = UniqueIDs(ids)
	items := make([]Profile, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

// Credentials

func (s *PostgresStore) CreateUser(ctx context.Context, profile Profile, passwordHash string) (Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, username, avatar_url)
		VALUES ($1, $2, $3, $4)
		RETURNING `+profileColumns,
		profile.ID, strings.TrimSpace(profile.Email), profile.Username, profile.AvatarURL,
	)
	created, err := scanProfile(row)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", conflict(err))
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO user_credentials (user_id, password_hash) VALUES ($1, $2)`, created.ID, passwordHash); err != nil {
		return Profile{}, fmt.Errorf("insert credentials: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("commit create user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM user_credentials WHERE user_id=$1`, userID).Scan(&hash)
	if err != nil {
		return "", notFound(err)
	}
	return hash, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE user_credentials SET password_hash=$2, updated_at=NOW() WHERE user_id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectOneRow(result)
}

// Documents

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	return scanDocument(row)
}

func (s *PostgresStore) ListPublicDocuments(ctx context.Context) ([]Document, error) {
	return s.listDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE is_public ORDER BY updated_at DESC`)
}

func (s *PostgresStore) ListDocumentsByAuthor(ctx context.Context, authorID string) ([]Document, error) {
	return s.listDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE author_id=$1 ORDER BY updated_at DESC`, authorID)
}

func (s *PostgresStore) ListDocumentsByIDs(ctx context.Context, ids []string) ([]Document, error) {
	ids = UniqueIDs(ids)
	if len(ids) == 0 {
		return make([]Document, 0), nil
	}
	return s.listDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ANY($1::text[]) ORDER BY updated_at DESC`, ids)
}

func (s *PostgresStore) listDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	tags, err := json.Marshal(nonNilTags(doc.Tags))
	if err != nil {
		return Document{}, fmt.Errorf("marshal tags: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, author_id, is_public, current_version, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
		RETURNING `+documentColumns,
		doc.ID, doc.Title, doc.Content, doc.AuthorID, doc.IsPublic, doc.CurrentVersion, string(tags), doc.CreatedAt, doc.UpdatedAt,
	)
	created, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", conflict(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, id string, update DocumentUpdate) (Document, error) {
	sets := []string{"updated_at=$2"}
	args := []any{id, update.UpdatedAt}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Content != nil {
		add("content", *update.Content)
	}
	if update.IsPublic != nil {
		add("is_public", *update.IsPublic)
	}
	if update.Tags != nil {
		tags, err := json.Marshal(update.Tags)
		if err != nil {
			return Document{}, fmt.Errorf("marshal tags: %w", err)
		}
		args = append(args, string(tags))
		sets = append(sets, fmt.Sprintf("tags=$%d::jsonb", len(args)))
	}
	if update.CurrentVersion != nil {
		add("current_version", *update.CurrentVersion)
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE documents SET `+strings.Join(sets, ", ")+` WHERE id=$1 RETURNING `+documentColumns,
		args...,
	)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes the document; grants, versions and notifications cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectOneRow(result)
}

// Collaborators

func (s *PostgresStore) GetCollaborator(ctx context.Context, documentID, userID string) (Collaborator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collaboratorColumns+` FROM document_collaborators WHERE document_id=$1 AND user_id=$2`, documentID, userID)
	return scanCollaborator(row)
}

func (s *PostgresStore) GetCollaboratorByID(ctx context.Context, id string) (Collaborator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collaboratorColumns+` FROM document_collaborators WHERE id=$1`, id)
	return scanCollaborator(row)
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, documentID string) ([]CollaboratorDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.user_id, c.permission, c.added_by, c.created_at,
		       COALESCE(p.username, ''), COALESCE(p.email, '')
		FROM document_collaborators c
		LEFT JOIN profiles p ON p.id = c.user_id
		WHERE c.document_id=$1
		ORDER BY c.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]CollaboratorDetail, 0)
	for rows.Next() {
		var (
			c        Collaborator
			username string
			email    string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.Permission, &c.AddedBy, &c.CreatedAt, &username, &email); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		checked, err := CheckCollaborator(c)
		if err != nil {
			return nil, err
		}
		items = append(items, CollaboratorDetail{Collaborator: checked, Username: username, Email: email})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCollaborationsForUser(ctx context.Context, userID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collaboratorColumns+` FROM document_collaborators WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list collaborations: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collaboration: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocumentIDsWithCollaborators(ctx context.Context, documentIDs []string) ([]string, error) {
	documentIDs = UniqueIDs(documentIDs)
	ids := make([]string, 0)
	if len(documentIDs) == 0 {
		return ids, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT document_id FROM document_collaborators WHERE document_id = ANY($1::text[])`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("list collaborator membership: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan collaborator membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborator membership: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) InsertCollaborator(ctx context.Context, grant Collaborator) (Collaborator, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO document_collaborators (id, document_id, user_id, permission, added_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+collaboratorColumns,
		grant.ID, grant.DocumentID, grant.UserID, grant.Permission, grant.AddedBy, grant.CreatedAt,
	)
	created, err := scanCollaborator(row)
	if err != nil {
		return Collaborator{}, fmt.Errorf("insert collaborator: %w", conflict(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateCollaboratorPermission(ctx context.Context, id, permission string) (Collaborator, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE document_collaborators SET permission=$2 WHERE id=$1 RETURNING `+collaboratorColumns, id, permission)
	updated, err := scanCollaborator(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Collaborator{}, err
		}
		return Collaborator{}, fmt.Errorf("update collaborator: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteCollaborator(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_collaborators WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete collaborator: %w", err)
	}
	return expectOneRow(result)
}

// Versions

func (s *PostgresStore) InsertVersion(ctx context.Context, version Version) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO document_versions (id, document_id, version, content, author_id, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+versionColumns,
		version.ID, version.DocumentID, version.Version, version.Content, version.AuthorID, version.Changes, version.CreatedAt,
	)
	created, err := scanVersion(row)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", conflict(err))
	}
	return created, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string, limit int) ([]Version, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE document_id=$1 ORDER BY version DESC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, number int) (Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE document_id=$1 AND version=$2`, documentID, number)
	return scanVersion(row)
}

func (s *PostgresStore) GetLatestVersion(ctx context.Context, documentID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE document_id=$1 ORDER BY version DESC LIMIT 1`, documentID)
	return scanVersion(row)
}

func (s *PostgresStore) LatestVersionNumbers(ctx context.Context, documentIDs []string) (map[string]int, error) {
	documentIDs = UniqueIDs(documentIDs)
	latest := make(map[string]int, len(documentIDs))
	if len(documentIDs) == 0 {
		return latest, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, MAX(version)
		FROM document_versions
		WHERE document_id = ANY($1::text[])
		GROUP BY document_id
	`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("latest versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id      string
			version int
		)
		if err := rows.Scan(&id, &version); err != nil {
			return nil, fmt.Errorf("scan latest version: %w", err)
		}
		latest[id] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest versions: %w", err)
	}
	return latest, nil
}

// Notifications

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, document_id, type, message, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`, n.ID, n.UserID, n.DocumentID, n.Type, n.Message, createdAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
