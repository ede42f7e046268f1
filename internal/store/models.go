package store

import (
	"strings"
	"time"
)

type Profile struct {
	ID        string
	Email     string
	Username  string
	AvatarURL string
	CreatedAt time.Time
}

// DisplayName prefers the username and falls back to the email local part.
func (p Profile) DisplayName() string {
	if name := strings.TrimSpace(p.Username); name != "" {
		return name
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}

type Document struct {
	ID             string
	Title          string
	Content        string
	AuthorID       string
	IsPublic       bool
	CurrentVersion int
	Tags           []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentUpdate carries the mutable columns of a document row. Nil fields are left untouched.
type DocumentUpdate struct {
	Title          *string
	Content        *string
	IsPublic       *bool
	Tags           []string
	CurrentVersion *int
	UpdatedAt      time.Time
}

type Collaborator struct {
	ID         string
	DocumentID string
	UserID     string
	Permission string
	AddedBy    string
	CreatedAt  time.Time
}

// CollaboratorDetail is a grant joined with the grantee's profile.
type CollaboratorDetail struct {
	Collaborator
	Username string
	Email    string
}

type Version struct {
	ID         string
	DocumentID string
	Version    int
	Content    string
	AuthorID   string
	Changes    string
	CreatedAt  time.Time
}

const (
	NotificationShare   = "share"
	NotificationMention = "mention"
)

type Notification struct {
	ID         string
	UserID     string
	DocumentID string
	Type       string
	Message    string
	CreatedAt  time.Time
}
