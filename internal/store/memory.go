package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps every collection in process. It enforces the same unique
// keys as the Postgres schema and is used for local development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]Profile
	passwords     map[string]string
	documents     map[string]Document
	collaborators map[string]Collaborator
	versions      map[string][]Version
	notifications []Notification
}

var (
	_ Store           = (*MemoryStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]Profile),
		passwords:     make(map[string]string),
		documents:     make(map[string]Document),
		collaborators: make(map[string]Collaborator),
		versions:      make(map[string][]Version),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// PutProfile inserts or replaces a profile without credentials.
func (m *MemoryStore) PutProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// Notifications returns a copy of every notification written so far.
func (m *MemoryStore) Notifications() []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Notification(nil), m.notifications...)
}

func (m *MemoryStore) GetProfileByID(_ context.Context, id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) GetProfileByEmail(_ context.Context, email string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.TrimSpace(email)
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return Profile{}, ErrNotFound
}

func (m *MemoryStore) GetProfileByUsername(_ context.Context, username string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found Profile
		ok    bool
	)
	for _, p := range m.profiles {
		if p.Username == "" || !strings.EqualFold(p.Username, username) {
			continue
		}
		if !ok || p.CreatedAt.Before(found.CreatedAt) {
			found, ok = p, true
		}
	}
	if !ok {
		return Profile{}, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) ListProfilesByIDs(_ context.Context, ids []string) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Profile, 0, len(ids))
	for _, id := range UniqueIDs(ids) {
		if p, ok := m.profiles[id]; ok {
			items = append(items, p)
		}
	}
	return items, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, profile Profile, passwordHash string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[profile.ID]; ok {
		return Profile{}, fmt.Errorf("%w: profile %s", ErrConflict, profile.ID)
	}
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, profile.Email) {
			return Profile{}, fmt.Errorf("%w: email", ErrConflict)
		}
	}
	m.profiles[profile.ID] = profile
	m.passwords[profile.ID] = passwordHash
	return profile, nil
}

func (m *MemoryStore) GetPasswordHash(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.passwords[userID]
	if !ok {
		return "", ErrNotFound
	}
	return hash, nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passwords[userID]; !ok {
		return ErrNotFound
	}
	m.passwords[userID] = passwordHash
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *MemoryStore) ListPublicDocuments(context.Context) ([]Document, error) {
	return m.filterDocuments(func(d Document) bool { return d.IsPublic }), nil
}

func (m *MemoryStore) ListDocumentsByAuthor(_ context.Context, authorID string) ([]Document, error) {
	return m.filterDocuments(func(d Document) bool { return d.AuthorID == authorID }), nil
}

func (m *MemoryStore) ListDocumentsByIDs(_ context.Context, ids []string) ([]Document, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	return m.filterDocuments(func(d Document) bool {
		_, ok := wanted[d.ID]
		return ok
	}), nil
}

func (m *MemoryStore) filterDocuments(keep func(Document) bool) []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Document, 0)
	for _, doc := range m.documents {
		if keep(doc) {
			items = append(items, copyDocument(doc))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items
}

func (m *MemoryStore) InsertDocument(_ context.Context, doc Document) (Document, error) {
	doc, err := CheckDocument(doc)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; ok {
		return Document{}, fmt.Errorf("%w: document %s", ErrConflict, doc.ID)
	}
	m.documents[doc.ID] = copyDocument(doc)
	return copyDocument(doc), nil
}

func (m *MemoryStore) UpdateDocument(_ context.Context, id string, update DocumentUpdate) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if update.Title != nil {
		doc.Title = *update.Title
	}
	if update.Content != nil {
		doc.Content = *update.Content
	}
	if update.IsPublic != nil {
		doc.IsPublic = *update.IsPublic
	}
	if update.Tags != nil {
		doc.Tags = append([]string{}, update.Tags...)
	}
	if update.CurrentVersion != nil {
		doc.CurrentVersion = *update.CurrentVersion
	}
	doc.UpdatedAt = update.UpdatedAt
	m.documents[id] = doc
	return copyDocument(doc), nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return ErrNotFound
	}
	delete(m.documents, id)
	delete(m.versions, id)
	for cid, c := range m.collaborators {
		if c.DocumentID == id {
			delete(m.collaborators, cid)
		}
	}
	return nil
}

func (m *MemoryStore) GetCollaborator(_ context.Context, documentID, userID string) (Collaborator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.collaborators {
		if c.DocumentID == documentID && c.UserID == userID {
			return c, nil
		}
	}
	return Collaborator{}, ErrNotFound
}

func (m *MemoryStore) GetCollaboratorByID(_ context.Context, id string) (Collaborator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collaborators[id]
	if !ok {
		return Collaborator{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListCollaborators(_ context.Context, documentID string) ([]CollaboratorDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]CollaboratorDetail, 0)
	for _, c := range m.collaborators {
		if c.DocumentID != documentID {
			continue
		}
		p := m.profiles[c.UserID]
		items = append(items, CollaboratorDetail{Collaborator: c, Username: p.Username, Email: p.Email})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (m *MemoryStore) ListCollaborationsForUser(_ context.Context, userID string) ([]Collaborator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Collaborator, 0)
	for _, c := range m.collaborators {
		if c.UserID == userID {
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) ListDocumentIDsWithCollaborators(_ context.Context, documentIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	present := make(map[string]struct{})
	for _, c := range m.collaborators {
		present[c.DocumentID] = struct{}{}
	}
	ids := make([]string, 0)
	for _, id := range UniqueIDs(documentIDs) {
		if _, ok := present[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) InsertCollaborator(_ context.Context, grant Collaborator) (Collaborator, error) {
	grant, err := CheckCollaborator(grant)
	if err != nil {
		return Collaborator{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collaborators {
		if c.DocumentID == grant.DocumentID && c.UserID == grant.UserID {
			return Collaborator{}, fmt.Errorf("%w: document_collaborators_document_id_user_id_key", ErrConflict)
		}
	}
	m.collaborators[grant.ID] = grant
	return grant, nil
}

func (m *MemoryStore) UpdateCollaboratorPermission(_ context.Context, id, permission string) (Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collaborators[id]
	if !ok {
		return Collaborator{}, ErrNotFound
	}
	c.Permission = permission
	m.collaborators[id] = c
	return c, nil
}

func (m *MemoryStore) DeleteCollaborator(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collaborators[id]; !ok {
		return ErrNotFound
	}
	delete(m.collaborators, id)
	return nil
}

func (m *MemoryStore) InsertVersion(_ context.Context, version Version) (Version, error) {
	version, err := CheckVersion(version)
	if err != nil {
		return Version{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[version.DocumentID] {
		if v.Version == version.Version {
			return Version{}, fmt.Errorf("%w: document_versions_document_id_version_key", ErrConflict)
		}
	}
	m.versions[version.DocumentID] = append(m.versions[version.DocumentID], version)
	return version, nil
}

func (m *MemoryStore) ListVersions(_ context.Context, documentID string, limit int) ([]Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := append(make([]Version, 0, len(m.versions[documentID])), m.versions[documentID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].Version > items[j].Version })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) GetVersion(_ context.Context, documentID string, number int) (Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions[documentID] {
		if v.Version == number {
			return v, nil
		}
	}
	return Version{}, ErrNotFound
}

func (m *MemoryStore) GetLatestVersion(_ context.Context, documentID string) (Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		latest Version
		ok     bool
	)
	for _, v := range m.versions[documentID] {
		if !ok || v.Version > latest.Version {
			latest, ok = v, true
		}
	}
	if !ok {
		return Version{}, ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) LatestVersionNumbers(_ context.Context, documentIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[string]int, len(documentIDs))
	for _, id := range UniqueIDs(documentIDs) {
		for _, v := range m.versions[id] {
			if v.Version > latest[id] {
				latest[id] = v.Version
			}
		}
	}
	return latest, nil
}

func (m *MemoryStore) InsertNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func copyDocument(d Document) Document {
	d.Tags = append([]string{}, d.Tags...)
	return d
}
