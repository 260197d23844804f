// Package notifywatch polls the remote academic config and raises exactly one
// notification per new broadcast id.
package notifywatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seamosgenios/credport/internal/ghstore"
)

// Notifier delivers a one-shot notification to the host environment. A
// missing permission is the caller's concern; implementations should suppress
// silently rather than fail.
type Notifier interface {
	Notify(title, body string)
}

type NotifierFunc func(title, body string)

func (f NotifierFunc) Notify(title, body string) { f(title, body) }

// WatermarkStore persists the highest broadcast id already surfaced, so a
// restart does not re-notify for an already-seen announcement. Best-effort:
// persistence failures are logged, never fatal.
type WatermarkStore interface {
	LastNotifiedID() (int64, error)
	SetLastNotifiedID(id int64) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	ConfigPath string
	Interval   time.Duration
	Title      string
	Logger     Logger
}

// Watcher is a cancellable repeating poller. Run it only while the consumer
// is in the student-facing context with notification permission granted;
// cancelling the context suspends polling.
type Watcher struct {
	store      ghstore.Store
	notifier   Notifier
	marks      WatermarkStore
	configPath string
	interval   time.Duration
	title      string
	logger     Logger

	polling atomic.Bool

	mu        sync.Mutex
	watermark int64
	loaded    bool
}

func New(store ghstore.Store, notifier Notifier, marks WatermarkStore, opts Options) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	configPath := strings.TrimSpace(opts.ConfigPath)
	if configPath == "" {
		configPath = "public/config.json"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "New announcement"
	}
	return &Watcher{
		store:      store,
		notifier:   notifier,
		marks:      marks,
		configPath: configPath,
		interval:   interval,
		title:      title,
		logger:     opts.Logger,
	}, nil
}

// Run polls on a fixed interval until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll performs one tick. Transient fetch failures are expected and silent; a
// tick that starts while the previous one is still fetching is skipped so
// slow fetches never pile up.
func (w *Watcher) Poll(ctx context.Context) {
	if !w.polling.CompareAndSwap(false, true) {
		return
	}
	defer w.polling.Store(false)

	doc, err := w.store.Get(ctx, w.configPath)
	if err != nil {
		w.logf("notification poll skipped: %v", err)
		return
	}
	var config struct {
		SystemMessage      string `json:"systemMessage"`
		LastNotificationID int64  `json:"lastNotificationId"`
	}
	if err := json.Unmarshal(doc.Content, &config); err != nil {
		w.logf("notification poll skipped: %v", err)
		return
	}

	w.mu.Lock()
	w.ensureWatermarkLocked()
	if config.LastNotificationID <= w.watermark {
		w.mu.Unlock()
		return
	}
	w.watermark = config.LastNotificationID
	w.mu.Unlock()

	w.notifier.Notify(w.title, config.SystemMessage)
	if w.marks != nil {
		if err := w.marks.SetLastNotifiedID(config.LastNotificationID); err != nil {
			w.logf("persist watermark: %v", err)
		}
	}
}

// Watermark returns the highest broadcast id surfaced so far.
func (w *Watcher) Watermark() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureWatermarkLocked()
	return w.watermark
}

func (w *Watcher) ensureWatermarkLocked() {
	if w.loaded {
		return
	}
	w.loaded = true
	if w.marks == nil {
		return
	}
	stored, err := w.marks.LastNotifiedID()
	if err != nil {
		w.logf("read watermark: %v", err)
		return
	}
	if stored > w.watermark {
		w.watermark = stored
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
