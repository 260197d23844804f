package notifywatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/seamosgenios/credport/internal/ghstore"
)

type configStore struct {
	mu      sync.Mutex
	content string
	err     error
	started chan struct{}
	block   chan struct{}
}

func (s *configStore) Get(_ context.Context, path string) (ghstore.Document, error) {
	s.mu.Lock()
	started := s.started
	block := s.block
	err := s.err
	content := s.content
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return ghstore.Document{}, err
	}
	return ghstore.Document{Path: path, Content: []byte(content)}, nil
}

func (s *configStore) Stat(context.Context, string, string) (string, error) {
	return "", ghstore.ErrNotFound
}

func (s *configStore) Put(context.Context, string, []byte, string, string, string) (string, error) {
	return "", fmt.Errorf("read-only store")
}

func (s *configStore) set(id int64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = fmt.Sprintf(`{"systemMessage":%q,"lastNotificationId":%d}`, message, id)
}

type recordingNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (n *recordingNotifier) Notify(_, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
}

func (n *recordingNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.bodies...)
}

type memMarks struct {
	mu   sync.Mutex
	id   int64
	err  error
	sets int
}

func (m *memMarks) LastNotifiedID() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.err
}

func (m *memMarks) SetLastNotifiedID(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.id = id
	m.sets++
	return nil
}

func newTestWatcher(t *testing.T, store *configStore, notifier Notifier, marks WatermarkStore) *Watcher {
	t.Helper()
	w, err := New(store, notifier, marks, Options{})
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	return w
}

func TestPollNotifiesOncePerNewID(t *testing.T) {
	store := &configStore{}
	store.set(5, "exam on friday")
	notifier := &recordingNotifier{}
	marks := &memMarks{}
	w := newTestWatcher(t, store, notifier, marks)

	w.Poll(context.Background())
	if got := notifier.calls(); len(got) != 1 || got[0] != "exam on friday" {
		t.Fatalf("expected one notification, got %v", got)
	}
	if w.Watermark() != 5 {
		t.Fatalf("expected watermark 5, got %d", w.Watermark())
	}
	if marks.id != 5 {
		t.Fatalf("expected persisted watermark 5, got %d", marks.id)
	}

	// Same document again: no further notification.
	w.Poll(context.Background())
	if got := notifier.calls(); len(got) != 1 {
		t.Fatalf("repeated poll of the same id must not re-notify, got %v", got)
	}
}

func TestWatermarkIsMaxOfObservedIDs(t *testing.T) {
	store := &configStore{}
	notifier := &recordingNotifier{}
	w := newTestWatcher(t, store, notifier, &memMarks{})

	for _, id := range []int64{3, 1, 7, 7, 2, 9} {
		store.set(id, fmt.Sprintf("msg %d", id))
		w.Poll(context.Background())
	}
	if w.Watermark() != 9 {
		t.Fatalf("expected watermark 9, got %d", w.Watermark())
	}
	// Only the strictly increasing ids notify: 3, 7, 9.
	if got := notifier.calls(); len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %v", got)
	}
}

func TestFetchFailuresAreSilent(t *testing.T) {
	store := &configStore{err: &ghstore.HTTPError{StatusCode: 502, Message: "bad gateway"}}
	notifier := &recordingNotifier{}
	marks := &memMarks{id: 4}
	w := newTestWatcher(t, store, notifier, marks)

	w.Poll(context.Background())
	if len(notifier.calls()) != 0 {
		t.Fatalf("fetch failure must not notify")
	}
	if w.Watermark() != 4 {
		t.Fatalf("fetch failure must not move the watermark, got %d", w.Watermark())
	}
}

func TestPersistedWatermarkSuppressesOldBroadcasts(t *testing.T) {
	store := &configStore{}
	store.set(5, "old news")
	notifier := &recordingNotifier{}
	w := newTestWatcher(t, store, notifier, &memMarks{id: 5})

	w.Poll(context.Background())
	if len(notifier.calls()) != 0 {
		t.Fatalf("already-seen id must not re-notify after restart")
	}
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	store := &configStore{started: make(chan struct{}, 1), block: make(chan struct{})}
	store.set(1, "slow")
	notifier := &recordingNotifier{}
	w := newTestWatcher(t, store, notifier, &memMarks{})

	done := make(chan struct{})
	go func() {
		w.Poll(context.Background())
		close(done)
	}()
	<-store.started // first tick is mid-fetch
	// Second tick while the first fetch is still blocked: must return
	// immediately without a second fetch.
	w.Poll(context.Background())
	close(store.block)
	<-done

	if got := notifier.calls(); len(got) != 1 {
		t.Fatalf("expected exactly one notification, got %v", got)
	}
}
