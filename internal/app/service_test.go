package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quire/api/internal/config"
	"quire/api/internal/identity"
	"quire/api/internal/rbac"
	"quire/api/internal/session"
	"quire/api/internal/store"
)

var errBackendDown = errors.New("connection refused")

// faultyStore wraps the in-memory store; a non-nil hook replaces the
// corresponding call.
type faultyStore struct {
	*store.MemoryStore

	getCollaboratorFn  func(ctx context.Context, documentID, userID string) (store.Collaborator, error)
	insertVersionFn    func(ctx context.Context, v store.Version) (store.Version, error)
	updateDocumentFn   func(ctx context.Context, id string, u store.DocumentUpdate) (store.Document, error)
	listPublicFn       func(ctx context.Context) ([]store.Document, error)
	membershipFn       func(ctx context.Context, ids []string) ([]string, error)
	listProfilesByIDFn func(ctx context.Context, ids []string) ([]store.Profile, error)
	pingFn             func(ctx context.Context) error

	mu              sync.Mutex
	membershipCalls int
}

func (f *faultyStore) GetCollaborator(ctx context.Context, documentID, userID string) (store.Collaborator, error) {
	if f.getCollaboratorFn != nil {
		return f.getCollaboratorFn(ctx, documentID, userID)
	}
	return f.MemoryStore.GetCollaborator(ctx, documentID, userID)
}

func (f *faultyStore) InsertVersion(ctx context.Context, v store.Version) (store.Version, error) {
	if f.insertVersionFn != nil {
		return f.insertVersionFn(ctx, v)
	}
	return f.MemoryStore.InsertVersion(ctx, v)
}

func (f *faultyStore) UpdateDocument(ctx context.Context, id string, u store.DocumentUpdate) (store.Document, error) {
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, id, u)
	}
	return f.MemoryStore.UpdateDocument(ctx, id, u)
}

func (f *faultyStore) ListPublicDocuments(ctx context.Context) ([]store.Document, error) {
	if f.listPublicFn != nil {
		return f.listPublicFn(ctx)
	}
	return f.MemoryStore.ListPublicDocuments(ctx)
}

func (f *faultyStore) ListDocumentIDsWithCollaborators(ctx context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	f.membershipCalls++
	f.mu.Unlock()
	if f.membershipFn != nil {
		return f.membershipFn(ctx, ids)
	}
	return f.MemoryStore.ListDocumentIDsWithCollaborators(ctx, ids)
}

func (f *faultyStore) ListProfilesByIDs(ctx context.Context, ids []string) ([]store.Profile, error) {
	if f.listProfilesByIDFn != nil {
		return f.listProfilesByIDFn(ctx, ids)
	}
	return f.MemoryStore.ListProfilesByIDs(ctx, ids)
}

func (f *faultyStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return f.MemoryStore.Ping(ctx)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	alice = &Principal{ID: "1", Email: "alice@x.com", Username: "alice"}
	bob   = &Principal{ID: "2", Email: "bob@x.com", Username: "bob"}
	carol = &Principal{ID: "3", Email: "carol@x.com", Username: "carol"}
)

type fixture struct {
	service  *Service
	store    *faultyStore
	captures *session.MemoryStore
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	for _, p := range []*Principal{alice, bob, carol} {
		mem.PutProfile(store.Profile{ID: p.ID, Email: p.Email, Username: p.Username})
	}
	fs := &faultyStore{MemoryStore: mem}
	captures := session.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cfg := config.Config{VersionThrottle: 60 * time.Second, AutosaveDebounce: 20 * time.Millisecond}
	provider := identity.NewLocal(mem, captures, "test-secret", time.Hour, zap.NewNop())

	return &fixture{
		service:  New(cfg, fs, captures, provider, WithClock(clock), WithLogger(zap.NewNop())),
		store:    fs,
		captures: captures,
		clock:    clock,
	}
}

func (f *fixture) create(t *testing.T, user *Principal, title string, public bool) store.Document {
	t.Helper()
	doc, err := f.service.CreateDocument(context.Background(), user, CreateDocumentInput{
		Title:    title,
		Content:  "<p>" + title + "</p>",
		IsPublic: public,
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) versionNumbers(t *testing.T, documentID string) []int {
	t.Helper()
	versions, err := f.store.ListVersions(context.Background(), documentID, 0)
	require.NoError(t, err)
	numbers := make([]int, 0, len(versions))
	for _, v := range versions {
		numbers = append(numbers, v.Version)
	}
	return numbers
}

func content(s string) *string { return &s }

func TestShareViewThenUpgradeToEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)

	_, err := f.service.GetDocument(ctx, bob, doc.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "view")
	require.NoError(t, err)

	view, err := f.service.GetDocument(ctx, bob, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.PermissionView, view.Permission)
	assert.False(t, view.CanEdit)

	_, err = f.service.RecordEdit(ctx, bob, EditRequest{DocumentID: doc.ID, Content: content("v2")})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "edit")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	result, err := f.service.RecordEdit(ctx, bob, EditRequest{DocumentID: doc.ID, Content: content("v2")})
	require.NoError(t, err)
	assert.False(t, result.VersionCaptured)
	assert.Equal(t, "v2", result.Document.Content)
	assert.Equal(t, []int{1}, f.versionNumbers(t, doc.ID))

	f.clock.Advance(60 * time.Second)
	result, err = f.service.RecordEdit(ctx, bob, EditRequest{DocumentID: doc.ID, Content: content("v2, later")})
	require.NoError(t, err)
	assert.True(t, result.VersionCaptured)
	assert.Equal(t, 2, result.Version)
	assert.Equal(t, 2, result.Document.CurrentVersion)
	assert.Equal(t, []int{2, 1}, f.versionNumbers(t, doc.ID))

	v2, err := f.service.GetVersion(ctx, alice, doc.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, v2.AuthorID)
	assert.Equal(t, "v2, later", v2.Content)
}

func TestAnonymousReadsPublicDocumentWithoutEditRights(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, alice, "Handbook", true)

	view, err := f.service.GetDocument(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.PermissionView, view.Permission)
	assert.False(t, view.CanEdit)
	assert.False(t, view.IsAuthor)
	assert.Equal(t, "<p>Handbook</p>", view.Document.Content)

	_, err = f.service.RecordEdit(context.Background(), nil, EditRequest{DocumentID: doc.ID, Content: content("x")})
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestAnonymousCannotSeePrivateDocument(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, alice, "Secret", false)

	view, err := f.service.GetDocument(context.Background(), nil, doc.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, view.Document.Content)
	assert.Empty(t, view.Document.Title)
}

func TestAuthorAlwaysHasEditEvenWithViewGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Mine", false)

	// A stray grant for the author must not downgrade them.
	_, err := f.store.InsertCollaborator(ctx, store.Collaborator{ID: "g1", DocumentID: doc.ID, UserID: alice.ID, Permission: "view"})
	require.NoError(t, err)

	permission, err := f.service.EffectivePermission(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.PermissionEdit, permission)
}

func TestGrantLookupFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)
	_, err := f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "edit")
	require.NoError(t, err)

	f.store.getCollaboratorFn = func(context.Context, string, string) (store.Collaborator, error) {
		return store.Collaborator{}, errBackendDown
	}

	_, err = f.service.GetDocument(ctx, bob, doc.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	// The author never depends on the grant lookup.
	_, err = f.service.GetDocument(ctx, alice, doc.ID)
	assert.NoError(t, err)
}

func TestGetDocumentNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetDocument(context.Background(), alice, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShareTwiceKeepsOneGrantWithLatestPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)

	first, err := f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "edit")
	require.NoError(t, err)
	second, err := f.service.ShareDocument(ctx, alice, doc.ID, "BOB@x.com", "view")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	grants, err := f.service.ListCollaborators(ctx, alice, doc.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "view", grants[0].Permission)
	assert.Equal(t, "bob", grants[0].Username)

	notifications := f.store.Notifications()
	require.Len(t, notifications, 2)
	assert.Equal(t, store.NotificationShare, notifications[1].Type)
	assert.Equal(t, bob.ID, notifications[1].UserID)
}

func TestShareRecoversFromConcurrentInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)

	// The first lookup misses; by the time we insert, someone else has.
	calls := 0
	f.store.getCollaboratorFn = func(ctx context.Context, documentID, userID string) (store.Collaborator, error) {
		calls++
		if calls == 1 {
			_, err := f.store.MemoryStore.InsertCollaborator(ctx, store.Collaborator{
				ID: "race", DocumentID: documentID, UserID: userID, Permission: "view",
			})
			require.NoError(t, err)
			return store.Collaborator{}, store.ErrNotFound
		}
		return f.store.MemoryStore.GetCollaborator(ctx, documentID, userID)
	}

	grant, err := f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "edit")
	require.NoError(t, err)
	assert.Equal(t, "race", grant.ID)
	assert.Equal(t, "edit", grant.Permission)
}

func TestShareValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)

	tests := []struct {
		name       string
		user       *Principal
		email      string
		permission string
		want       error
	}{
		{"anonymous", nil, "bob@x.com", "view", ErrAuthenticationRequired},
		{"bad email", alice, "bob", "view", ErrValidation},
		{"bad permission", alice, "bob@x.com", "owner", ErrValidation},
		{"unknown user", alice, "nobody@x.com", "view", ErrUserNotFound},
		{"author", alice, "alice@x.com", "view", ErrValidation},
		{"no share right", bob, "carol@x.com", "view", ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.ShareDocument(ctx, tt.user, doc.ID, tt.email, tt.permission)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdateAndRemoveCollaborator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)
	other := f.create(t, alice, "Other", false)
	grant, err := f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "view")
	require.NoError(t, err)

	updated, err := f.service.UpdateCollaboratorPermission(ctx, alice, doc.ID, grant.ID, "edit")
	require.NoError(t, err)
	assert.Equal(t, "edit", updated.Permission)

	// A grant id from another document is not reachable through this one.
	err = f.service.RemoveCollaborator(ctx, alice, other.ID, grant.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.service.RemoveCollaborator(ctx, alice, doc.ID, grant.ID))
	_, err = f.service.GetDocument(ctx, bob, doc.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestCreateDocumentWritesVersionOne(t *testing.T) {
	f := newFixture(t)
	doc, err := f.service.CreateDocument(context.Background(), alice, CreateDocumentInput{
		Title:   "  Notes  ",
		Content: "<p>hello</p>",
		Tags:    []string{"a", " A ", "", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Notes", doc.Title)
	assert.Equal(t, []string{"a", "b"}, doc.Tags)
	assert.Equal(t, 1, doc.CurrentVersion)

	versions, err := f.service.GetVersions(context.Background(), alice, doc.ID, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, "Document created", versions[0].Changes)
	assert.Equal(t, "<p>hello</p>", versions[0].Content)
}

func TestCreateDocumentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateDocument(ctx, nil, CreateDocumentInput{Title: "x"})
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	_, err = f.service.CreateDocument(ctx, alice, CreateDocumentInput{Title: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	long := make([]rune, maxTitleLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = f.service.CreateDocument(ctx, alice, CreateDocumentInput{Title: string(long)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateDocumentReportsPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.store.insertVersionFn = func(context.Context, store.Version) (store.Version, error) {
		return store.Version{}, errBackendDown
	}

	doc, err := f.service.CreateDocument(context.Background(), alice, CreateDocumentInput{Title: "Roadmap"})
	require.ErrorIs(t, err, ErrPartialFailure)
	require.NotEmpty(t, doc.ID)

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, map[string]any{"documentId": doc.ID}, domainErr.Details)

	stored, getErr := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "Roadmap", stored.Title)
}

func TestAutosaveBurstCapturesOneVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)
	f.clock.Advance(61 * time.Second)

	const n = 8
	captured := 0
	for i := 1; i <= n; i++ {
		result, err := f.service.RecordEdit(ctx, alice, EditRequest{
			DocumentID: doc.ID,
			SessionID:  "edit_s1",
			Content:    content("draft " + string(rune('0'+i))),
		})
		require.NoError(t, err)
		if result.VersionCaptured {
			captured++
		}
		f.clock.Advance(time.Second)
	}

	assert.Equal(t, 1, captured)
	assert.Equal(t, []int{2, 1}, f.versionNumbers(t, doc.ID))

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft 8", stored.Content)
	assert.Equal(t, 2, stored.CurrentVersion)
}

func TestRecordEditSkipsUnchangedContent(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, alice, "Roadmap", false)
	f.clock.Advance(5 * time.Minute)

	result, err := f.service.RecordEdit(context.Background(), alice, EditRequest{
		DocumentID: doc.ID,
		Title:      content("Roadmap 2026"),
		Explicit:   true,
	})
	require.NoError(t, err)
	assert.False(t, result.VersionCaptured)
	assert.Equal(t, 1, result.Version)
	assert.Equal(t, "Roadmap 2026", result.Document.Title)
}

func TestRecordEditUsesSessionCaptureTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)

	// Another session captured recently; this session has not captured yet
	// and falls back to the newest version's time.
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.captures.MarkCaptured(ctx, "edit_other", doc.ID, f.clock.Now()))

	result, err := f.service.RecordEdit(ctx, alice, EditRequest{DocumentID: doc.ID, SessionID: "edit_mine", Content: content("a")})
	require.NoError(t, err)
	assert.True(t, result.VersionCaptured)

	last, ok, err := f.captures.LastCapture(ctx, "edit_mine", doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.clock.Now(), last)
}

func TestRecordEditRetriesVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)
	f.clock.Advance(2 * time.Minute)

	raced := false
	f.store.insertVersionFn = func(ctx context.Context, v store.Version) (store.Version, error) {
		if !raced {
			raced = true
			competing := v
			competing.ID = "competing"
			competing.AuthorID = bob.ID
			_, err := f.store.MemoryStore.InsertVersion(ctx, competing)
			require.NoError(t, err)
			return store.Version{}, store.ErrConflict
		}
		return f.store.MemoryStore.InsertVersion(ctx, v)
	}

	result, err := f.service.RecordEdit(ctx, alice, EditRequest{DocumentID: doc.ID, Content: content("mine")})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Version)
	assert.Equal(t, []int{3, 2, 1}, f.versionNumbers(t, doc.ID))
}

func TestRecordEditGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, alice, "Roadmap", false)
	f.clock.Advance(2 * time.Minute)

	attempts := 0
	f.store.insertVersionFn = func(context.Context, store.Version) (store.Version, error) {
		attempts++
		return store.Version{}, store.ErrConflict
	}

	_, err := f.service.RecordEdit(context.Background(), alice, EditRequest{DocumentID: doc.ID, Content: content("mine")})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, versionInsertAttempts, attempts)
}

func TestRecordEditFailedWriteLeavesDocumentIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)
	f.clock.Advance(2 * time.Minute)
	f.store.updateDocumentFn = func(context.Context, string, store.DocumentUpdate) (store.Document, error) {
		return store.Document{}, errBackendDown
	}

	_, err := f.service.RecordEdit(ctx, alice, EditRequest{DocumentID: doc.ID, Content: content("lost")})
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>Roadmap</p>", stored.Content)
	assert.Equal(t, []int{1}, f.versionNumbers(t, doc.ID))
}

func TestDeleteDocumentIsAuthorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)
	_, err := f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "edit")
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.DeleteDocument(ctx, bob, doc.ID), ErrAccessDenied)
	assert.ErrorIs(t, f.service.DeleteDocument(ctx, nil, doc.ID), ErrAuthenticationRequired)
	require.NoError(t, f.service.DeleteDocument(ctx, alice, doc.ID))

	_, err = f.service.GetDocument(ctx, alice, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentVersionsCapsAtFive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", true)
	for i := 0; i < 7; i++ {
		f.clock.Advance(2 * time.Minute)
		_, err := f.service.RecordEdit(ctx, alice, EditRequest{DocumentID: doc.ID, Content: content(string(rune('a' + i)))})
		require.NoError(t, err)
	}

	recent, err := f.service.RecentVersions(ctx, nil, doc.ID)
	require.NoError(t, err)
	require.Len(t, recent, recentVersionsLimit)
	assert.Equal(t, 8, recent[0].Version)

	_, err = f.service.GetVersion(ctx, nil, doc.ID, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMentionsNotifyReadersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, alice, "Roadmap", false)
	_, err := f.service.ShareDocument(ctx, alice, doc.ID, "bob@x.com", "view")
	require.NoError(t, err)

	_, err = f.service.RecordEdit(ctx, alice, EditRequest{
		DocumentID: doc.ID,
		Content:    content("<p>@bob and @carol, see @alice</p>"),
	})
	require.NoError(t, err)

	var mentions []store.Notification
	for _, n := range f.store.Notifications() {
		if n.Type == store.NotificationMention {
			mentions = append(mentions, n)
		}
	}
	require.Len(t, mentions, 1)
	assert.Equal(t, bob.ID, mentions[0].UserID)

	// Saving the same mention again does not notify twice.
	_, err = f.service.RecordEdit(ctx, alice, EditRequest{
		DocumentID: doc.ID,
		Content:    content("<p>@bob and @carol, see @alice!</p>"),
	})
	require.NoError(t, err)
	assert.Len(t, f.store.Notifications(), 2)
}

func TestHasAnyCollaboratorBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice, "A", false)
	b := f.create(t, alice, "B", false)
	c := f.create(t, alice, "C", false)
	_, err := f.service.ShareDocument(ctx, alice, b.ID, "bob@x.com", "view")
	require.NoError(t, err)

	got := f.service.HasAnyCollaborator(ctx, alice, []string{a.ID, b.ID, c.ID})
	assert.Equal(t, map[string]bool{a.ID: false, b.ID: true, c.ID: false}, got)
	assert.Equal(t, 1, f.store.membershipCalls)

	f.store.membershipFn = func(context.Context, []string) ([]string, error) { return nil, errBackendDown }
	got = f.service.HasAnyCollaborator(ctx, alice, []string{a.ID, b.ID})
	assert.Equal(t, map[string]bool{a.ID: false, b.ID: false}, got)
}

func TestHasAnyCollaboratorHidesUnreadableDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	secret := f.create(t, alice, "Secret", false)
	open := f.create(t, alice, "Open", true)
	_, err := f.service.ShareDocument(ctx, alice, secret.ID, "bob@x.com", "view")
	require.NoError(t, err)
	_, err = f.service.ShareDocument(ctx, alice, open.ID, "bob@x.com", "view")
	require.NoError(t, err)

	_, err = f.service.GetDocument(ctx, carol, secret.ID)
	require.ErrorIs(t, err, ErrAccessDenied)

	got := f.service.HasAnyCollaborator(ctx, carol, []string{secret.ID, open.ID, "nonexistent"})
	assert.Equal(t, map[string]bool{secret.ID: false, open.ID: true, "nonexistent": false}, got)

	// A collaborator sees the same answer as the author.
	got = f.service.HasAnyCollaborator(ctx, bob, []string{secret.ID})
	assert.Equal(t, map[string]bool{secret.ID: true}, got)

	got = f.service.HasAnyCollaborator(ctx, nil, []string{secret.ID, open.ID})
	assert.Equal(t, map[string]bool{secret.ID: false, open.ID: true}, got)
}

func TestHasAnyCollaboratorSkipsQueryWhenNothingReadable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	secret := f.create(t, alice, "Secret", false)

	got := f.service.HasAnyCollaborator(ctx, carol, []string{secret.ID})
	assert.Equal(t, map[string]bool{secret.ID: false}, got)
	assert.Equal(t, 0, f.store.membershipCalls)
}

func TestListAccessibleDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := f.create(t, alice, "Own public", true)
	f.clock.Advance(time.Minute)
	shared := f.create(t, bob, "Shared", false)
	f.clock.Advance(time.Minute)
	public := f.create(t, carol, "Carol public", true)
	f.clock.Advance(time.Minute)
	f.create(t, carol, "Carol private", false)

	_, err := f.service.ShareDocument(ctx, bob, shared.ID, "alice@x.com", "view")
	require.NoError(t, err)

	list := f.service.ListAccessibleDocuments(ctx, alice)
	require.Equal(t, StateReady, list.State)
	ids := make([]string, 0, len(list.Documents))
	for _, d := range list.Documents {
		ids = append(ids, d.Document.ID)
	}
	assert.Equal(t, []string{public.ID, shared.ID, own.ID}, ids)

	byID := make(map[string]DocumentSummary)
	for _, d := range list.Documents {
		byID[d.Document.ID] = d
	}
	assert.Equal(t, rbac.PermissionEdit, byID[own.ID].Permission)
	assert.Equal(t, rbac.PermissionView, byID[shared.ID].Permission)
	assert.True(t, byID[shared.ID].HasCollaborators)
	assert.Equal(t, "bob", byID[shared.ID].AuthorName)
	assert.Equal(t, 1, byID[public.ID].LatestVersion)

	anonymous := f.service.ListAccessibleDocuments(ctx, nil)
	assert.Len(t, anonymous.Documents, 2)
}

func TestListAccessibleDocumentsDegradesToErrorState(t *testing.T) {
	f := newFixture(t)
	f.create(t, alice, "Public", true)
	f.store.listPublicFn = func(context.Context) ([]store.Document, error) { return nil, errBackendDown }

	list := f.service.ListAccessibleDocuments(context.Background(), alice)
	assert.Equal(t, StateError, list.State)
	assert.NotNil(t, list.Documents)
	assert.Empty(t, list.Documents)
	assert.NotEmpty(t, list.Error)
}

func TestListAccessibleDocumentsSurvivesMissingProfiles(t *testing.T) {
	f := newFixture(t)
	f.create(t, alice, "Public", true)
	f.store.listProfilesByIDFn = func(context.Context, []string) ([]store.Profile, error) { return nil, errBackendDown }

	list := f.service.ListAccessibleDocuments(context.Background(), nil)
	require.Equal(t, StateReady, list.State)
	require.Len(t, list.Documents, 1)
	assert.Empty(t, list.Documents[0].AuthorName)
}

func TestSearchDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, title := range []string{"Roadmap", "Recipes", "Budget"} {
		f.create(t, alice, title, true)
		f.clock.Advance(time.Minute)
	}
	_, err := f.service.RecordEdit(ctx, alice, EditRequest{
		DocumentID: f.service.ListAccessibleDocuments(ctx, alice).Documents[0].Document.ID,
		Content:    content("<p>see the <em>roadmap</em></p>"),
	})
	require.NoError(t, err)

	all := f.service.ListAccessibleDocuments(ctx, alice)
	blank := f.service.SearchDocuments(ctx, alice, "   ")
	assert.Equal(t, all.Documents, blank.Documents)

	hits := f.service.SearchDocuments(ctx, alice, "ROADMAP")
	require.Equal(t, StateReady, hits.State)
	require.Len(t, hits.Documents, 2)
	assert.Equal(t, "Budget", hits.Documents[0].Document.Title)
	assert.Equal(t, "Roadmap", hits.Documents[1].Document.Title)

	// Without a search index, matches keep the listing order.
	var listed []string
	for _, d := range all.Documents {
		if d.Document.Title == "Budget" || d.Document.Title == "Roadmap" {
			listed = append(listed, d.Document.ID)
		}
	}
	assert.Equal(t, listed, []string{hits.Documents[0].Document.ID, hits.Documents[1].Document.ID})
}

func TestAuthenticateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.service.SignUp(ctx, "dana@x.com", "correct horse", "dana")
	require.NoError(t, err)

	user, err := f.service.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "dana", user.DisplayName())

	_, err = f.service.SignUp(ctx, "dana@x.com", "correct horse", "dana2")
	assert.ErrorIs(t, err, ErrEmailExists)
	_, err = f.service.SignIn(ctx, "dana@x.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.service.SignOut(ctx, session.AccessToken))
	_, err = f.service.Authenticate(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	_, err = f.service.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestPingReportsEachDependency(t *testing.T) {
	f := newFixture(t)
	checks := f.service.Ping(context.Background())
	assert.Len(t, checks, 2)
	for name, err := range checks {
		assert.NoError(t, err, name)
	}
}
