package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record conflicts with an existing row")
	ErrMalformedRow = errors.New("malformed row")
)

// Store is the query surface the core issues against a persistence backend.
type Store interface {
	GetProfileByID(ctx context.Context, id string) (Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (Profile, error)
	ListProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error)

	GetDocument(ctx context.Context, id string) (Document, error)
	ListPublicDocuments(ctx context.Context) ([]Document, error)
	ListDocumentsByAuthor(ctx context.Context, authorID string) ([]Document, error)
	ListDocumentsByIDs(ctx context.Context, ids []string) ([]Document, error)
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	UpdateDocument(ctx context.Context, id string, update DocumentUpdate) (Document, error)
	DeleteDocument(ctx context.Context, id string) error

	GetCollaborator(ctx context.Context, documentID, userID string) (Collaborator, error)
	GetCollaboratorByID(ctx context.Context, id string) (Collaborator, error)
	ListCollaborators(ctx context.Context, documentID string) ([]CollaboratorDetail, error)
	ListCollaborationsForUser(ctx context.Context, userID string) ([]Collaborator, error)
	ListDocumentIDsWithCollaborators(ctx context.Context, documentIDs []string) ([]string, error)
	InsertCollaborator(ctx context.Context, grant Collaborator) (Collaborator, error)
	UpdateCollaboratorPermission(ctx context.Context, id, permission string) (Collaborator, error)
	DeleteCollaborator(ctx context.Context, id string) error

	InsertVersion(ctx context.Context, version Version) (Version, error)
	ListVersions(ctx context.Context, documentID string, limit int) ([]Version, error)
	GetVersion(ctx context.Context, documentID string, number int) (Version, error)
	GetLatestVersion(ctx context.Context, documentID string) (Version, error)
	LatestVersionNumbers(ctx context.Context, documentIDs []string) (map[string]int, error)

	InsertNotification(ctx context.Context, notification Notification) error

	Ping(ctx context.Context) error
}

// CredentialStore backs the local identity provider.
type CredentialStore interface {
	GetProfileByID(ctx context.Context, id string) (Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)
	CreateUser(ctx context.Context, profile Profile, passwordHash string) (Profile, error)
	GetPasswordHash(ctx context.Context, userID string) (string, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// UniqueIDs returns ids without blanks or duplicates, preserving first-seen order.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
