// Package retained holds the last retained value per topic and persists the
// whole mapping as one snapshot artifact.
//
// Reads are served from memory and never wait on storage. Mutations update
// memory first and then rewrite the snapshot; a failed write is reported but
// the in-memory change stays, so live subscribers keep seeing the newest
// value until the next successful write catches storage up.
package retained

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomcast/internal/storage"
)

var (
	// ErrCorrupt is returned by Load when the artifact exists but cannot be
	// decoded. The store starts empty.
	ErrCorrupt = errors.New("retained: snapshot corrupt")

	// ErrUnavailable is returned by Load when the artifact cannot be read.
	// The store starts empty.
	ErrUnavailable = errors.New("retained: storage unavailable")

	// ErrWriteFailed is returned when a snapshot could not be persisted.
	ErrWriteFailed = errors.New("retained: snapshot write failed")

	// ErrLimitExceeded is returned by Upsert when a new topic would exceed
	// MaxTopics.
	ErrLimitExceeded = errors.New("retained: topic limit exceeded")

	// ErrInvalidRecord is returned by Upsert for a record without a topic.
	ErrInvalidRecord = errors.New("retained: record has no topic")
)

// Options configures a Store.
type Options struct {
	// Codec encodes snapshots. Nil means JSON.
	Codec Codec

	// Compression is applied to encoded snapshots.
	Compression Compression

	// MaxTopics bounds how many topics may hold a record. Zero is unlimited.
	MaxTopics int

	Logger *slog.Logger

	// Now stamps LastUpdated when the caller leaves it zero.
	Now func() time.Time
}

// Store is the durable topic -> Record mapping.
type Store struct {
	backend     storage.Backend
	codec       Codec
	compression Compression
	maxTopics   int
	logger      *slog.Logger
	now         func() time.Time

	// writeMu serializes mutate-then-persist sequences so snapshots hit
	// storage in the order their mutations happened.
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[string]Record
}

// New returns an empty Store backed by backend. Call Load to restore the
// persisted state.
func New(backend storage.Backend, opts Options) *Store {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend:     backend,
		codec:       opts.Codec,
		compression: opts.Compression,
		maxTopics:   opts.MaxTopics,
		logger:      opts.Logger,
		now:         opts.Now,
		records:     make(map[string]Record),
	}
}

// Load replaces the in-memory state with the persisted snapshot and returns
// a copy of it.
//
// A missing artifact is a valid empty state. A corrupt or unreadable artifact
// also leaves the store empty, but the returned error says why. Corrupt bytes
// are left in place and copied aside when the backend can archive.
func (s *Store) Load(ctx context.Context) (map[string]Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loaded := make(map[string]Record)
	var loadErr error

	data, err := s.backend.Read(ctx)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		s.logger.Info("no retained snapshot found, starting empty")
	case err != nil:
		s.logger.Error("retained snapshot unreadable, starting empty", slog.String("error", err.Error()))
		loadErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		records, decErr := decodeSnapshot(data)
		if decErr != nil {
			s.logger.Error("retained snapshot corrupt, starting empty",
				slog.Int("bytes", len(data)),
				slog.String("error", decErr.Error()))
			s.archive(ctx, data)
			loadErr = fmt.Errorf("%w: %w", ErrCorrupt, decErr)
			break
		}
		for _, rec := range records {
			if len(rec.Payload) == 0 {
				continue
			}
			loaded[rec.Topic] = rec
		}
		s.logger.Info("retained snapshot loaded", slog.Int("topics", len(loaded)))
	}

	s.mu.Lock()
	s.records = loaded
	out := make(map[string]Record, len(loaded))
	for topic, rec := range loaded {
		out[topic] = rec.clone()
	}
	s.mu.Unlock()

	return out, loadErr
}

func (s *Store) archive(ctx context.Context, data []byte) {
	a, ok := s.backend.(storage.Archiver)
	if !ok {
		return
	}
	if err := a.Archive(ctx, data); err != nil {
		s.logger.Warn("failed to archive corrupt retained snapshot", slog.String("error", err.Error()))
	}
}

// Upsert sets the record for rec.Topic and persists the snapshot before
// returning. An empty payload clears the topic instead.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.Topic == "" {
		return ErrInvalidRecord
	}
	if len(rec.Payload) == 0 {
		return s.Clear(ctx, rec.Topic)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, exists := s.records[rec.Topic]; !exists && s.maxTopics > 0 && len(s.records) >= s.maxTopics {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d topics", ErrLimitExceeded, s.maxTopics)
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = s.now()
	}
	rec.LastUpdated = rec.LastUpdated.UTC()
	s.records[rec.Topic] = rec.clone()
	records := s.sortedLocked()
	s.mu.Unlock()

	return s.persist(ctx, records)
}

// Get returns the record for topic.
func (s *Store) Get(topic string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[topic]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// All returns every record ordered by topic.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.sortedLocked()
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

// Len reports how many topics hold a record.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes the record for topic. Clearing a topic without a record does
// not touch storage.
func (s *Store) Clear(ctx context.Context, topic string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.records[topic]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.records, topic)
	records := s.sortedLocked()
	s.mu.Unlock()

	return s.persist(ctx, records)
}

// ClearAll removes every record and deletes the artifact.
func (s *Store) ClearAll(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.records = make(map[string]Record)
	s.mu.Unlock()

	return s.persist(ctx, nil)
}

// persist writes the snapshot for records, or deletes the artifact when there
// is nothing left. Callers hold writeMu.
func (s *Store) persist(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		if err := s.backend.Delete(ctx); err != nil {
			return fmt.Errorf("%w: delete: %w", ErrWriteFailed, err)
		}
		return nil
	}

	data, err := encodeSnapshot(records, s.codec, s.compression)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrWriteFailed, err)
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

func (s *Store) sortedLocked() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}
