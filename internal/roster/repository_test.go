package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seamosgenios/credport/internal/ghstore"
)

type fakeDoc struct {
	content  []byte
	revision string
}

type fakeStore struct {
	mu          sync.Mutex
	docs        map[string]fakeDoc
	revCounter  int
	getErr      map[string]error
	statErr     map[string]error
	putErr      map[string]error
	statCalls   int
	putCalls    int
	statStarted chan struct{}
	statRelease chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:    map[string]fakeDoc{},
		getErr:  map[string]error{},
		statErr: map[string]error{},
		putErr:  map[string]error{},
	}
}

func (s *fakeStore) seed(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revCounter++
	s.docs[path] = fakeDoc{content: []byte(content), revision: fmt.Sprintf("rev_%d", s.revCounter)}
}

func (s *fakeStore) Get(_ context.Context, path string) (ghstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[path]; err != nil {
		return ghstore.Document{}, err
	}
	doc, ok := s.docs[path]
	if !ok {
		return ghstore.Document{}, ghstore.ErrNotFound
	}
	return ghstore.Document{Path: path, Content: doc.content}, nil
}

func (s *fakeStore) Stat(_ context.Context, path, _ string) (string, error) {
	s.mu.Lock()
	s.statCalls++
	started := s.statStarted
	release := s.statRelease
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.statErr[path]; err != nil {
		return "", err
	}
	doc, ok := s.docs[path]
	if !ok {
		return "", ghstore.ErrNotFound
	}
	return doc.revision, nil
}

func (s *fakeStore) Put(_ context.Context, path string, content []byte, expectedRevision, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if err := s.putErr[path]; err != nil {
		return "", err
	}
	current, exists := s.docs[path]
	if exists && current.revision != expectedRevision {
		return "", &ghstore.ConflictError{Path: path}
	}
	if !exists && expectedRevision != "" {
		return "", &ghstore.ConflictError{Path: path}
	}
	s.revCounter++
	doc := fakeDoc{content: append([]byte(nil), content...), revision: fmt.Sprintf("rev_%d", s.revCounter)}
	s.docs[path] = doc
	return doc.revision, nil
}

func newTestRepo(t *testing.T, store ghstore.Store) *Repository {
	t.Helper()
	repo, err := NewRepository(store, Options{})
	if err != nil {
		t.Fatalf("new repository failed: %v", err)
	}
	return repo
}

func TestLoadMissingDocumentsYieldDefaults(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(t, store)

	if err := repo.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := repo.Students(); len(got) != 0 {
		t.Fatalf("expected empty collection, got %d records", len(got))
	}
	config := repo.Config()
	if config.LastNotificationID != 0 || config.SubjectLinks[SubjectMath] != "#" {
		t.Fatalf("expected default config, got %+v", config)
	}
	if repo.Dirty() {
		t.Fatalf("fresh load must not be dirty")
	}
}

func TestLoadFailureLeavesPreviousStateUntouched(t *testing.T) {
	store := newFakeStore()
	store.seed(DefaultRosterPath, `[{"id":"T.I. 1","fullName":"ANA"}]`)
	repo := newTestRepo(t, store)
	if err := repo.Load(context.Background()); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	store.mu.Lock()
	store.getErr[DefaultRosterPath] = &ghstore.HTTPError{StatusCode: 500, Message: "boom"}
	store.mu.Unlock()

	if err := repo.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if got := repo.Students(); len(got) != 1 || got[0].FullName != "ANA" {
		t.Fatalf("previous state must survive a failed load, got %+v", got)
	}
}

func TestLoadRejectsMalformedRoster(t *testing.T) {
	store := newFakeStore()
	store.seed(DefaultRosterPath, `[{"fullName":"NO ID"}]`)
	repo := newTestRepo(t, store)
	if err := repo.Load(context.Background()); err == nil {
		t.Fatalf("expected schema validation error")
	}
}

func TestCreateOrUpdateRejectsDuplicateIdentity(t *testing.T) {
	repo := newTestRepo(t, newFakeStore())
	if _, err := repo.CreateOrUpdate(StudentRecord{ID: "T.I. 12345", FullName: "Ana"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := repo.CreateOrUpdate(StudentRecord{ID: "TI-12345", FullName: "Impostor"})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
	if got := repo.Students(); len(got) != 1 {
		t.Fatalf("failed create must not change the collection, got %d records", len(got))
	}
}

func TestCreateOrUpdateReplacesByKeyAndNeverGrowsByMoreThanOne(t *testing.T) {
	repo := newTestRepo(t, newFakeStore())
	stored, err := repo.CreateOrUpdate(StudentRecord{ID: "T.I. 1", FullName: "Ana"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	before := len(repo.Students())

	edited := *stored
	edited.Plan = "Plan Premium"
	if _, err := repo.CreateOrUpdate(edited); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	after := repo.Students()
	if len(after) != before {
		t.Fatalf("update must not change collection size: %d -> %d", before, len(after))
	}
	if after[0].Plan != "Plan Premium" {
		t.Fatalf("expected updated plan, got %q", after[0].Plan)
	}

	// Editing the id to collide with another record is rejected.
	if _, err := repo.CreateOrUpdate(StudentRecord{ID: "C.C. 2", FullName: "Luis"}); err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	edited = *stored
	edited.ID = "CC-2"
	if _, err := repo.CreateOrUpdate(edited); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity on colliding edit, got %v", err)
	}
}

func TestCreateOrUpdateNormalizesDefaults(t *testing.T) {
	repo := newTestRepo(t, newFakeStore())
	stored, err := repo.CreateOrUpdate(StudentRecord{ID: "9", FullName: "ana gomez"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if stored.FullName != "ANA GOMEZ" {
		t.Fatalf("expected upper-cased name, got %q", stored.FullName)
	}
	if stored.PaymentDate != PaymentPending || stored.FolderURL != "#" || stored.Status != StatusActive {
		t.Fatalf("expected defaults applied, got %+v", stored)
	}
}

func TestDeleteByKey(t *testing.T) {
	repo := newTestRepo(t, newFakeStore())
	stored, _ := repo.CreateOrUpdate(StudentRecord{ID: "1", FullName: "Ana"})

	if !repo.Delete(stored.Key) {
		t.Fatalf("expected delete to find the record")
	}
	if repo.Delete("missing") {
		t.Fatalf("deleting an unknown key must be a no-op")
	}
	if len(repo.Students()) != 0 {
		t.Fatalf("expected empty collection after delete")
	}
}

func TestCommitWritesDirtyDocumentsUnderFreshRevision(t *testing.T) {
	store := newFakeStore()
	store.seed(DefaultRosterPath, `[]`)
	repo := newTestRepo(t, store)
	if err := repo.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := repo.CreateOrUpdate(StudentRecord{ID: "T.I. 7", FullName: "Ana"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	result, err := repo.Commit(context.Background(), "tok")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if !result.Roster.Written || result.Config.Attempted {
		t.Fatalf("expected only the roster to be written: %+v", result)
	}
	if repo.Dirty() {
		t.Fatalf("successful commit must clear the dirty flag")
	}
	store.mu.Lock()
	content := string(store.docs[DefaultRosterPath].content)
	store.mu.Unlock()
	if !bytes.Contains([]byte(content), []byte("    \"id\": \"T.I. 7\"")) {
		t.Fatalf("expected 4-space-indented roster content, got %q", content)
	}
}

func TestCommitWithoutCredentialIsRejected(t *testing.T) {
	repo := newTestRepo(t, newFakeStore())
	if _, err := repo.Commit(context.Background(), "  "); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestCommitConflictPreservesLocalStateExactly(t *testing.T) {
	store := newFakeStore()
	store.seed(DefaultRosterPath, `[{"id":"T.I. 1","fullName":"ANA"}]`)
	repo := newTestRepo(t, store)
	if err := repo.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := repo.CreateOrUpdate(StudentRecord{ID: "T.I. 2", FullName: "Luis"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	before, err := repo.ExportSnapshot()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	// Another writer advances the roster revision between our load and commit.
	store.seed(DefaultRosterPath, `[{"id":"T.I. 999","fullName":"OTRO"}]`)
	store.mu.Lock()
	store.putErr[DefaultRosterPath] = &ghstore.ConflictError{Path: DefaultRosterPath}
	store.mu.Unlock()

	result, err := repo.Commit(context.Background(), "tok")
	if !errors.Is(err, ghstore.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if result.Roster.Written {
		t.Fatalf("conflicted document must not be marked written")
	}
	if !repo.Dirty() {
		t.Fatalf("conflict must keep the dirty flag set")
	}
	after, err := repo.ExportSnapshot()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("local state changed across a failed commit:\nbefore %s\nafter %s", before, after)
	}
}

func TestCommitPartialMultiDocumentOutcome(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(t, store)
	if _, err := repo.CreateOrUpdate(StudentRecord{ID: "1", FullName: "Ana"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	repo.Broadcast("exam schedule published")
	store.mu.Lock()
	store.putErr[DefaultConfigPath] = &ghstore.ConflictError{Path: DefaultConfigPath}
	store.mu.Unlock()

	result, err := repo.Commit(context.Background(), "tok")
	if err == nil {
		t.Fatalf("expected a partial-failure error")
	}
	if !result.Partial() {
		t.Fatalf("expected partial outcome, got %+v", result)
	}
	if !result.Roster.Written || result.Config.Written {
		t.Fatalf("expected roster written and config failed, got %+v", result)
	}

	// The surviving config edit commits cleanly once the conflict is gone.
	store.mu.Lock()
	delete(store.putErr, DefaultConfigPath)
	store.mu.Unlock()
	result, err = repo.Commit(context.Background(), "tok")
	if err != nil {
		t.Fatalf("retry commit failed: %v", err)
	}
	if result.Roster.Attempted {
		t.Fatalf("clean roster must not be rewritten: %+v", result)
	}
	if !result.Config.Written {
		t.Fatalf("expected config written on retry: %+v", result)
	}
}

func TestCommitWhileInFlightReturnsBusy(t *testing.T) {
	store := newFakeStore()
	store.statStarted = make(chan struct{}, 1)
	store.statRelease = make(chan struct{})
	repo := newTestRepo(t, store)
	if _, err := repo.CreateOrUpdate(StudentRecord{ID: "1", FullName: "Ana"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := repo.Commit(context.Background(), "tok")
		done <- err
	}()
	<-store.statStarted // first commit is mid re-fetch

	if _, err := repo.Commit(context.Background(), "tok"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(store.statRelease)
	if err := <-done; err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
}

func TestCommitNothingDirtyIsNoOp(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(t, store)
	result, err := repo.Commit(context.Background(), "tok")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if result.Roster.Attempted || result.Config.Attempted {
		t.Fatalf("nothing dirty must attempt nothing: %+v", result)
	}
	if store.putCalls != 0 || store.statCalls != 0 {
		t.Fatalf("no-op commit must not touch the network")
	}
}

func TestBroadcastAdvancesNotificationID(t *testing.T) {
	repo := newTestRepo(t, newFakeStore())
	repo.now = func() time.Time { return time.UnixMilli(1000) }

	first := repo.Broadcast("hello")
	if first != 1000 {
		t.Fatalf("expected id 1000, got %d", first)
	}
	// Clock stall: a second broadcast must still strictly advance.
	second := repo.Broadcast("again")
	if second <= first {
		t.Fatalf("broadcast id must strictly increase: %d then %d", first, second)
	}
	if !repo.Dirty() {
		t.Fatalf("broadcast must mark the config dirty")
	}
}

func TestExportSnapshotUsesTwoSpaceIndentAndNoRemoteCalls(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(t, store)
	if _, err := repo.CreateOrUpdate(StudentRecord{ID: "1", FullName: "Ana"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	data, err := repo.ExportSnapshot()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !bytes.Contains(data, []byte("\n  {")) {
		t.Fatalf("expected 2-space indentation, got %q", data)
	}
	if store.statCalls != 0 || store.putCalls != 0 {
		t.Fatalf("export must be pure")
	}
}
