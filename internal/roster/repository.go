package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seamosgenios/credport/internal/ghstore"
)

const (
	DefaultRosterPath = "public/estudiantes.json"
	DefaultConfigPath = "public/config.json"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	RosterPath    string
	ConfigPath    string
	RosterMessage string
	ConfigMessage string
	Logger        Logger
}

// Repository is the single source of truth for the local student collection
// and academic configuration, and the sole writer against the remote store.
// Local state diverges from remote only between a mutation and the next
// successful Commit; a failed operation never leaves partial local changes.
type Repository struct {
	store         ghstore.Store
	rosterPath    string
	configPath    string
	rosterMessage string
	configMessage string
	logger        Logger
	now           func() time.Time

	mu          sync.Mutex
	records     []*StudentRecord
	config      AcademicConfig
	index       *Index
	rosterDirty bool
	configDirty bool
	rosterGen   uint64
	configGen   uint64
	committing  bool
	rosterRev   string
	configRev   string
}

func NewRepository(store ghstore.Store, opts Options) (*Repository, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	rosterPath := strings.TrimSpace(opts.RosterPath)
	if rosterPath == "" {
		rosterPath = DefaultRosterPath
	}
	configPath := strings.TrimSpace(opts.ConfigPath)
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	rosterMessage := strings.TrimSpace(opts.RosterMessage)
	if rosterMessage == "" {
		rosterMessage = "Update student roster"
	}
	configMessage := strings.TrimSpace(opts.ConfigMessage)
	if configMessage == "" {
		configMessage = "Update academic config"
	}
	return &Repository{
		store:         store,
		rosterPath:    rosterPath,
		configPath:    configPath,
		rosterMessage: rosterMessage,
		configMessage: configMessage,
		logger:        opts.Logger,
		now:           time.Now,
		config:        DefaultConfig(),
		index:         NewIndex(nil),
	}, nil
}

// Load fetches both documents in parallel and replaces local state wholesale.
// A missing document is an empty roster or the default config, not an error.
// On any other failure the previous local state is left untouched.
func (r *Repository) Load(ctx context.Context) error {
	type fetch struct {
		doc ghstore.Document
		err error
	}
	rosterCh := make(chan fetch, 1)
	configCh := make(chan fetch, 1)
	go func() {
		doc, err := r.store.Get(ctx, r.rosterPath)
		rosterCh <- fetch{doc: doc, err: err}
	}()
	go func() {
		doc, err := r.store.Get(ctx, r.configPath)
		configCh <- fetch{doc: doc, err: err}
	}()
	rosterRes := <-rosterCh
	configRes := <-configCh

	records, err := decodeRoster(r.rosterPath, rosterRes.doc.Content, rosterRes.err)
	if err != nil {
		return err
	}
	config, err := decodeConfig(r.configPath, configRes.doc.Content, configRes.err)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = records
	r.config = config
	r.index = NewIndex(records)
	r.rosterDirty = false
	r.configDirty = false
	r.rosterGen++
	r.configGen++
	return nil
}

func decodeRoster(path string, content []byte, fetchErr error) ([]*StudentRecord, error) {
	if errors.Is(fetchErr, ghstore.ErrNotFound) {
		return nil, nil
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("load %s: %w", path, fetchErr)
	}
	if err := ValidateRosterDocument(path, content); err != nil {
		return nil, err
	}
	var records []*StudentRecord
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, record := range records {
		record.Key = uuid.NewString()
		record.applyDefaults()
	}
	return records, nil
}

func decodeConfig(path string, content []byte, fetchErr error) (AcademicConfig, error) {
	if errors.Is(fetchErr, ghstore.ErrNotFound) {
		return DefaultConfig(), nil
	}
	if fetchErr != nil {
		return AcademicConfig{}, fmt.Errorf("load %s: %w", path, fetchErr)
	}
	if err := ValidateConfigDocument(path, content); err != nil {
		return AcademicConfig{}, err
	}
	config := DefaultConfig()
	if err := json.Unmarshal(content, &config); err != nil {
		return AcademicConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if config.SubjectLinks == nil {
		config.SubjectLinks = DefaultConfig().SubjectLinks
	}
	return config, nil
}

// CreateOrUpdate inserts a new record or replaces the one matching the
// surrogate key. A normalized-identifier collision with another record fails
// with ErrDuplicateIdentity and applies no change. Returns the stored record
// (with its key) on success.
func (r *Repository) CreateOrUpdate(record StudentRecord) (*StudentRecord, error) {
	stored := record.clone()
	stored.applyDefaults()
	normalized := stored.NormalizedID()
	if normalized == "" {
		return nil, fmt.Errorf("record identifier is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existingAt := -1
	if stored.Key != "" {
		for i, current := range r.records {
			if current.Key == stored.Key {
				existingAt = i
				break
			}
		}
	}
	for i, current := range r.records {
		if i != existingAt && current.NormalizedID() == normalized {
			return nil, &DuplicateIdentityError{ID: stored.ID, Normalized: normalized}
		}
	}

	if existingAt >= 0 {
		r.records[existingAt] = stored
	} else {
		stored.Key = uuid.NewString()
		r.records = append(r.records, stored)
	}
	r.index = NewIndex(r.records)
	r.rosterDirty = true
	r.rosterGen++
	return stored.clone(), nil
}

// Delete removes the record with the given surrogate key. Deleting an unknown
// key is a no-op and does not mark the roster dirty.
func (r *Repository) Delete(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, current := range r.records {
		if current.Key == key {
			r.records = append(r.records[:i], r.records[i+1:]...)
			r.index = NewIndex(r.records)
			r.rosterDirty = true
			r.rosterGen++
			return true
		}
	}
	return false
}

// SetSubjectLink updates one subject link in the config document.
func (r *Repository) SetSubjectLink(subject, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.config.SubjectLinks == nil {
		r.config.SubjectLinks = map[string]string{}
	}
	r.config.SubjectLinks[subject] = url
	r.configDirty = true
	r.configGen++
}

// SetSystemMessage updates the broadcast text without bumping the
// notification id; students see it on next load but are not alerted.
func (r *Repository) SetSystemMessage(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.SystemMessage = message
	r.configDirty = true
	r.configGen++
}

// Broadcast stages a system-wide announcement: sets the message and advances
// LastNotificationID to a strictly larger value so every watching client
// notifies exactly once. Takes effect on the next Commit.
func (r *Repository) Broadcast(message string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(message) != "" {
		r.config.SystemMessage = message
	}
	id := r.now().UnixMilli()
	if id <= r.config.LastNotificationID {
		id = r.config.LastNotificationID + 1
	}
	r.config.LastNotificationID = id
	r.configDirty = true
	r.configGen++
	return id
}

func (r *Repository) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterDirty || r.configDirty
}

// Students returns a defensive copy of the current collection.
func (r *Repository) Students() []*StudentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*StudentRecord, len(r.records))
	for i, record := range r.records {
		out[i] = record.clone()
	}
	return out
}

func (r *Repository) Config() AcademicConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.clone()
}

// FindByIdentity looks a record up by its normalized identifier.
func (r *Repository) FindByIdentity(raw string) (*StudentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.index.FindByIdentity(raw)
	if record == nil {
		return nil, false
	}
	return record.clone(), true
}

// Search collects the records matching the query, in collection order.
func (r *Repository) Search(q Query) []*StudentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*StudentRecord
	for record := range r.index.Filter(q) {
		out = append(out, record.clone())
	}
	return out
}

func (r *Repository) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{Total: len(r.records), Plans: map[string]int{}}
	for _, record := range r.records {
		if record.Status == StatusActive {
			stats.Active++
		}
		plan := record.Plan
		if plan == "" {
			plan = "No Plan"
		}
		stats.Plans[plan]++
	}
	return stats
}

// ExportSnapshot serializes the current collection for a manual backup file.
// Pure: no remote interaction, no state change.
func (r *Repository) ExportSnapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.MarshalIndent(r.records, "", "  ")
}

// DocumentOutcome reports one document's fate within a commit.
type DocumentOutcome struct {
	Path      string
	Attempted bool
	Written   bool
	Revision  string
	Err       error
}

// CommitResult reports both documents. Multi-document commits are not atomic:
// a partial result (roster written, config failed) is a legal outcome and the
// caller must be able to tell the two apart.
type CommitResult struct {
	Roster DocumentOutcome
	Config DocumentOutcome
}

// Partial reports whether some attempted document was written while another
// attempted document failed.
func (res CommitResult) Partial() bool {
	wrote := (res.Roster.Attempted && res.Roster.Written) || (res.Config.Attempted && res.Config.Written)
	failed := (res.Roster.Attempted && res.Roster.Err != nil) || (res.Config.Attempted && res.Config.Err != nil)
	return wrote && failed
}

// Commit writes every dirty document to the remote store. For each document
// it re-fetches the current revision token and issues a conditional write; a
// concurrent writer surfaces as ghstore.ErrConflict and local edits are kept
// unmodified for an explicit retry. A second Commit while one is in flight
// fails immediately with ErrBusy.
func (r *Repository) Commit(ctx context.Context, credential string) (CommitResult, error) {
	if strings.TrimSpace(credential) == "" {
		return CommitResult{}, ErrNoCredential
	}

	r.mu.Lock()
	if r.committing {
		r.mu.Unlock()
		return CommitResult{}, ErrBusy
	}
	r.committing = true
	writeRoster := r.rosterDirty
	writeConfig := r.configDirty
	rosterGen := r.rosterGen
	configGen := r.configGen
	var rosterBytes, configBytes []byte
	var marshalErr error
	if writeRoster {
		rosterBytes, marshalErr = json.MarshalIndent(r.records, "", "    ")
	}
	if marshalErr == nil && writeConfig {
		configBytes, marshalErr = json.MarshalIndent(r.config, "", "    ")
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.committing = false
		r.mu.Unlock()
	}()
	if marshalErr != nil {
		return CommitResult{}, marshalErr
	}

	result := CommitResult{
		Roster: DocumentOutcome{Path: r.rosterPath},
		Config: DocumentOutcome{Path: r.configPath},
	}
	if writeRoster {
		result.Roster.Attempted = true
		result.Roster.Revision, result.Roster.Err = r.writeDocument(ctx, r.rosterPath, rosterBytes, r.rosterMessage, credential)
		result.Roster.Written = result.Roster.Err == nil
	}
	if writeConfig {
		result.Config.Attempted = true
		result.Config.Revision, result.Config.Err = r.writeDocument(ctx, r.configPath, configBytes, r.configMessage, credential)
		result.Config.Written = result.Config.Err == nil
	}

	r.mu.Lock()
	if result.Roster.Written {
		r.rosterRev = result.Roster.Revision
		if r.rosterGen == rosterGen {
			r.rosterDirty = false
		}
	}
	if result.Config.Written {
		r.configRev = result.Config.Revision
		if r.configGen == configGen {
			r.configDirty = false
		}
	}
	r.mu.Unlock()

	return result, errors.Join(result.Roster.Err, result.Config.Err)
}

func (r *Repository) writeDocument(ctx context.Context, path string, content []byte, message, credential string) (string, error) {
	revision, err := r.store.Stat(ctx, path, credential)
	if err != nil {
		if !errors.Is(err, ghstore.ErrNotFound) {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		revision = ""
	}
	newRevision, err := r.store.Put(ctx, path, content, revision, message, credential)
	if err != nil {
		if errors.Is(err, ghstore.ErrConflict) {
			r.logf("conflict writing %s; local edits preserved", path)
		}
		return "", err
	}
	return newRevision, nil
}

// Revisions returns the last confirmed revision tokens for roster and config.
func (r *Repository) Revisions() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterRev, r.configRev
}

func (r *Repository) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
