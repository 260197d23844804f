package ghstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T, handler http.Handler) (*HTTPStore, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	store, err := NewHTTPStore(Options{
		Owner:      "academy",
		Repo:       "roster",
		Branch:     "main",
		APIBaseURL: server.URL,
		RawBaseURL: server.URL + "/raw",
		HTTPClient: server.Client(),
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return store, server
}

func TestGetReadsRawContent(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/raw/academy/roster/main/public/estudiantes.json" {
			t.Errorf("unexpected raw path %s", r.URL.Path)
		}
		if r.URL.Query().Get("t") == "" {
			t.Errorf("expected cache-busting query parameter")
		}
		_, _ = w.Write([]byte(`[{"id":"123"}]`))
	}))

	doc, err := store.Get(context.Background(), "public/estudiantes.json")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(doc.Content) != `[{"id":"123"}]` {
		t.Fatalf("unexpected content %q", doc.Content)
	}
}

func TestGetMissingDocumentIsNotFound(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := store.Get(context.Background(), "public/estudiantes.json")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatResolvesRevision(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/academy/roster/contents/public/config.json" {
			t.Errorf("unexpected contents path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token tok_1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sha": "rev_abc"})
	}))

	rev, err := store.Stat(context.Background(), "public/config.json", "tok_1")
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if rev != "rev_abc" {
		t.Fatalf("expected rev_abc, got %q", rev)
	}
}

func TestPutSendsConditionalWrite(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method %s", r.Method)
		}
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body failed: %v", err)
		}
		if body.SHA != "rev_old" {
			t.Errorf("expected sha rev_old, got %q", body.SHA)
		}
		if body.Message != "Update roster" {
			t.Errorf("unexpected message %q", body.Message)
		}
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil || string(decoded) != "[]" {
			t.Errorf("unexpected content %q (err %v)", body.Content, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": "rev_new"}})
	}))

	rev, err := store.Put(context.Background(), "public/estudiantes.json", []byte("[]"), "rev_old", "Update roster", "tok")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if rev != "rev_new" {
		t.Fatalf("expected rev_new, got %q", rev)
	}
}

func TestPutCreateOmitsRevision(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["sha"]; ok {
			t.Errorf("create must not carry a sha")
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": "rev_1"}})
	}))

	rev, err := store.Put(context.Background(), "public/config.json", []byte("{}"), "", "Create config", "tok")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if rev != "rev_1" {
		t.Fatalf("expected rev_1, got %q", rev)
	}
}

func TestPutRevisionMismatchIsConflict(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusUnprocessableEntity} {
		store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "sha does not match"})
		}))
		_, err := store.Put(context.Background(), "public/estudiantes.json", []byte("[]"), "rev_stale", "Update roster", "tok")
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("status %d: expected ErrConflict, got %v", status, err)
		}
	}
}

func TestPutBadCredentialIsUnauthorized(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
	}))

	_, err := store.Put(context.Background(), "public/estudiantes.json", []byte("[]"), "rev", "Update roster", "bad")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var authErr *UnauthorizedError
	if !errors.As(err, &authErr) || authErr.Message != "Bad credentials" {
		t.Fatalf("expected message from API, got %v", err)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))

	if _, err := store.Get(context.Background(), "public/config.json"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestConflictIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))

	_, err := store.Put(context.Background(), "public/estudiantes.json", []byte("[]"), "rev", "Update roster", "tok")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("conflict must not be retried, saw %d calls", calls.Load())
	}
}
