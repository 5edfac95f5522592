// Package store keeps the ordered collection of article records and persists it
// as a single JSON snapshot that is replaced atomically on every mutation.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"tracklight/internal/logger"
	"tracklight/internal/models"
	"tracklight/pkg/utils"
)

// filePerm is the mode of the snapshot file.
const filePerm = 0o600

// Store is the single owner of the persisted records. It is safe for concurrent use
// within one process; Open takes an advisory lock so a second process cannot write.
type Store struct {
	mu      sync.Mutex
	path    string
	lock    *flock.Flock
	records []models.ArticleRecord
	index   map[string]int
	log     *logger.Logger
	now     func() time.Time
	closed  bool

	// beforeRename runs between writing the temp file and renaming it over the snapshot.
	beforeRename func(tmp string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for created and analyzed timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open locks path and loads its records. A missing file yields an empty store.
// If the file is corrupt the lock is released and a *CorruptStoreError is returned.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open store: empty path")
	}

	s := &Store{
		path:  path,
		index: make(map[string]int),
		log:   logger.Nop(),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s.lock = flock.New(path + ".lock")

	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	if err := s.Load(); err != nil {
		_ = s.lock.Unlock()

		return nil, err
	}

	s.log.Debug("store opened", "path", path, "records", len(s.records))

	return s, nil
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory records with the snapshot on disk.
func (s *Store) Load() error {
	records, err := readSnapshot(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.swap(records)

	return nil
}

// readSnapshot decodes the file at path. Temp files left by an interrupted write
// are never read because only the target path is opened.
func readSnapshot(path string) ([]models.ArticleRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.ArticleRecord{}, nil
		}

		return nil, fmt.Errorf("read store: %w", err)
	}

	var records []models.ArticleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &CorruptStoreError{Path: path, Err: err}
	}

	if records == nil {
		return nil, &CorruptStoreError{Path: path, Err: errors.New("snapshot is not a record list")}
	}

	seen := make(map[string]bool, len(records))

	for i := range records {
		id := key(records[i].Identity)
		records[i].Identity = id

		if id == "" {
			return nil, &CorruptStoreError{Path: path, Err: fmt.Errorf("record %d: %w", i, ErrEmptyIdentity)}
		}

		if seen[id] {
			return nil, &CorruptStoreError{Path: path, Err: fmt.Errorf("duplicate identity %q", id)}
		}

		seen[id] = true

		if records[i].Analysis != nil {
			if err := records[i].Analysis.Validate(); err != nil {
				return nil, &CorruptStoreError{Path: path, Err: fmt.Errorf("record %q: %w", id, err)}
			}
		}
	}

	return records, nil
}

// BackupCorrupt moves a corrupt snapshot aside so the store can start empty.
// It returns the backup path.
func BackupCorrupt(path string) (string, error) {
	backup := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("backup corrupt store: %w", err)
	}

	return backup, nil
}

// Close releases the process lock. The store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.lock.Unlock()
}

// UpsertOption adjusts how Upsert merges with an existing record.
type UpsertOption func(*upsertOptions)

type upsertOptions struct {
	preserveAnalysis bool
	overwriteNote    bool
}

// PreserveAnalysis keeps the stored analysis when the record already has one.
func PreserveAnalysis() UpsertOption {
	return func(o *upsertOptions) {
		o.preserveAnalysis = true
	}
}

// OverwriteNote replaces the stored note with the incoming one, even when empty.
func OverwriteNote() UpsertOption {
	return func(o *upsertOptions) {
		o.overwriteNote = true
	}
}

// Upsert inserts rec, or replaces the record with the same identity in place.
// Unless options say otherwise an existing non-empty note is kept, and the creation
// time, group label, status and priority are kept when rec leaves them empty.
// It returns the stored record and whether it was newly created.
func (s *Store) Upsert(rec models.ArticleRecord, opts ...UpsertOption) (models.ArticleRecord, bool, error) {
	var o upsertOptions
	for _, opt := range opts {
		opt(&o)
	}

	rec.Identity = key(rec.Identity)
	if rec.Identity == "" {
		return models.ArticleRecord{}, false, ErrEmptyIdentity
	}

	if rec.Analysis != nil {
		if err := rec.Analysis.Validate(); err != nil {
			return models.ArticleRecord{}, false, fmt.Errorf("upsert %s: %w", rec.Identity, err)
		}
	}

	rec = rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.ArticleRecord{}, false, ErrClosed
	}

	now := s.now().UTC()
	next := slices.Clone(s.records)

	i, exists := s.index[rec.Identity]
	if exists {
		rec = merge(next[i], rec, o)
	} else {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}

		if rec.Status == "" {
			rec.Status = models.StatusNotStarted
		}
	}

	if rec.Analysis != nil && rec.AnalyzedAt.IsZero() {
		rec.AnalyzedAt = now
	}

	if exists {
		next[i] = rec
	} else {
		next = append(next, rec)
	}

	if err := s.persist(next); err != nil {
		return models.ArticleRecord{}, false, err
	}

	s.swap(next)
	s.log.Debug("record upserted", "identity", rec.Identity, "created", !exists)

	return rec.Clone(), !exists, nil
}

func merge(old, rec models.ArticleRecord, o upsertOptions) models.ArticleRecord {
	rec.CreatedAt = old.CreatedAt

	if !o.overwriteNote && old.Note != "" {
		rec.Note = old.Note
	}

	if o.preserveAnalysis && old.Analysis != nil {
		rec.Analysis = old.Analysis
		rec.AnalyzedAt = old.AnalyzedAt
	}

	if rec.GroupLabel == "" {
		rec.GroupLabel = old.GroupLabel
	}

	if rec.Status == "" {
		rec.Status = old.Status
	}

	if rec.Priority == "" {
		rec.Priority = old.Priority
	}

	if rec.SourceKind == "" {
		rec.SourceKind = old.SourceKind
	}

	return rec
}

// Delete removes every listed identity that is present and returns how many were
// removed. Absent identities are ignored; when nothing matches no write happens.
func (s *Store) Delete(ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	drop := make(map[string]bool, len(ids))

	for _, id := range ids {
		if _, ok := s.index[key(id)]; ok {
			drop[key(id)] = true
		}
	}

	if len(drop) == 0 {
		return 0, nil
	}

	next := make([]models.ArticleRecord, 0, len(s.records)-len(drop))

	for _, r := range s.records {
		if !drop[r.Identity] {
			next = append(next, r)
		}
	}

	if err := s.persist(next); err != nil {
		return 0, err
	}

	s.swap(next)
	s.log.Debug("records deleted", "count", len(drop))

	return len(drop), nil
}

// UpdateNote replaces the note of one record.
func (s *Store) UpdateNote(id, note string) (models.ArticleRecord, error) {
	return s.update(id, func(r *models.ArticleRecord) error {
		r.Note = note

		return nil
	})
}

// UpdateStatus sets status and priority of one record. Empty values leave the
// current value unchanged.
func (s *Store) UpdateStatus(id string, status models.Status, priority models.Priority) (models.ArticleRecord, error) {
	if status != "" && !status.Valid() {
		return models.ArticleRecord{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if priority != "" && !priority.Valid() {
		return models.ArticleRecord{}, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}

	return s.update(id, func(r *models.ArticleRecord) error {
		if status != "" {
			r.Status = status
		}

		if priority != "" {
			r.Priority = priority
		}

		return nil
	})
}

func (s *Store) update(id string, mutate func(r *models.ArticleRecord) error) (models.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.ArticleRecord{}, ErrClosed
	}

	id = key(id)

	i, ok := s.index[id]
	if !ok {
		return models.ArticleRecord{}, &NotFoundError{Identity: id}
	}

	next := slices.Clone(s.records)

	rec := next[i].Clone()
	if err := mutate(&rec); err != nil {
		return models.ArticleRecord{}, err
	}

	next[i] = rec

	if err := s.persist(next); err != nil {
		return models.ArticleRecord{}, err
	}

	s.swap(next)

	return rec.Clone(), nil
}

// ApplyGroupLabels sets the group label of every mapped record in a single write.
// Records absent from labels keep their label; identities unknown to the store are
// ignored. Either all labels are applied or none are. It returns the number applied.
func (s *Store) ApplyGroupLabels(labels map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	keyed := make(map[string]string, len(labels))
	for id, label := range labels {
		keyed[key(id)] = label
	}

	next := slices.Clone(s.records)
	applied := 0

	for i := range next {
		label, ok := keyed[next[i].Identity]
		if !ok {
			continue
		}

		next[i].GroupLabel = label
		applied++
	}

	if applied == 0 {
		return 0, nil
	}

	if err := s.persist(next); err != nil {
		return 0, err
	}

	s.swap(next)
	s.log.Debug("group labels applied", "count", applied)

	return applied, nil
}

// ListAll returns a copy of every record in insertion order.
func (s *Store) ListAll() []models.ArticleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ArticleRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}

	return out
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (models.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = key(id)

	i, ok := s.index[id]
	if !ok {
		return models.ArticleRecord{}, &NotFoundError{Identity: id}
	}

	return s.records[i].Clone(), nil
}

// Contains reports whether id is stored.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.index[key(id)]

	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// persist writes records as the new snapshot. Callers hold s.mu.
func (s *Store) persist(records []models.ArticleRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	if err := utils.WriteFileAtomic(s.path, data, filePerm, s.beforeRename); err != nil {
		s.log.Error("store write failed", "path", s.path, "error", err)

		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	return nil
}

// key is the index form of an identity. Every lookup and write goes through it.
func key(id string) string {
	return strings.TrimSpace(id)
}

// swap installs records as the current state. Callers hold s.mu.
func (s *Store) swap(records []models.ArticleRecord) {
	index := make(map[string]int, len(records))
	for i, r := range records {
		index[r.Identity] = i
	}

	s.records = records
	s.index = index
}
