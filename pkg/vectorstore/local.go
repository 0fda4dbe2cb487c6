package vectorstore

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const localIndexVersion = 1

// LocalConfig holds settings for the on-disk index.
type LocalConfig struct {
	Path       string `json:"path"`
	Dimensions int    `json:"dimensions"`
}

// LocalStore is a brute-force cosine index persisted to a single file.
// It fills the role a dedicated vector database plays in shared
// deployments: development and small corpora, no external service.
type LocalStore struct {
	config *LocalConfig
	logger *slog.Logger

	mu      sync.RWMutex
	ready   bool
	entries map[string]Entry
}

type localSnapshot struct {
	Version    int
	Dimensions int
	Entries    []Entry
}

// NewLocalStore creates a local store backed by the file at
// config.Path.
func NewLocalStore(config *LocalConfig) (*LocalStore, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("local index path is required")
	}
	return &LocalStore{
		config:  config,
		logger:  slog.Default().With("component", "local-store"),
		entries: make(map[string]Entry),
	}, nil
}

// EnsureReady loads the index file when it exists; a missing file
// starts an empty index. Once ready it is a no-op: reloading the
// snapshot would discard upserts made since the last Save.
func (l *LocalStore) EnsureReady(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}

	file, err := os.Open(l.config.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Info("no existing index, starting empty", "path", l.config.Path)
			l.ready = true
			return nil
		}
		return fmt.Errorf("opening index %q: %w", l.config.Path, err)
	}
	defer file.Close()

	var snap localSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decoding index %q: %w", l.config.Path, err)
	}
	if snap.Version != localIndexVersion {
		return fmt.Errorf("index %q has version %d, want %d", l.config.Path, snap.Version, localIndexVersion)
	}
	if l.config.Dimensions > 0 && snap.Dimensions > 0 && snap.Dimensions != l.config.Dimensions {
		return fmt.Errorf("index %q has %d-dimensional vectors, configured for %d",
			l.config.Path, snap.Dimensions, l.config.Dimensions)
	}

	l.entries = make(map[string]Entry, len(snap.Entries))
	for _, entry := range snap.Entries {
		l.entries[entry.ID] = entry
	}
	l.ready = true
	l.logger.Info("loaded index", "path", l.config.Path, "entries", len(l.entries))
	return nil
}

// Upsert stores entries in memory; Save persists them.
func (l *LocalStore) Upsert(_ context.Context, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return ErrNotReady
	}
	for _, entry := range entries {
		if err := checkDimensions(l.config.Dimensions, len(entry.Vector)); err != nil {
			return fmt.Errorf("entry %s: %w", entry.ID, err)
		}
		l.entries[entry.ID] = entry
	}
	return nil
}

// Search scans every entry and returns the k most similar, best first.
// An empty index yields an empty result, not an error.
func (l *LocalStore) Search(_ context.Context, vector []float32, k int) ([]Match, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return nil, ErrNotReady
	}
	if err := checkDimensions(l.config.Dimensions, len(vector)); err != nil {
		return nil, err
	}
	if k < 1 {
		k = 1
	}

	matches := make([]Match, 0, len(l.entries))
	for _, entry := range l.entries {
		matches = append(matches, Match{
			Entry: entry,
			Score: cosineSimilarity(vector, entry.Vector),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		// Stable order for equal scores.
		return matches[i].Entry.ID < matches[j].Entry.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count reports the number of indexed entries.
func (l *LocalStore) Count(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return 0, ErrNotReady
	}
	return int64(len(l.entries)), nil
}

// Save writes the index to disk atomically (temp file plus rename).
func (l *LocalStore) Save() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return ErrNotReady
	}

	snap := localSnapshot{
		Version:    localIndexVersion,
		Dimensions: l.config.Dimensions,
		Entries:    make([]Entry, 0, len(l.entries)),
	}
	for _, entry := range l.entries {
		snap.Entries = append(snap.Entries, entry)
	}

	dir := filepath.Dir(l.config.Path)
	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.config.Path); err != nil {
		return fmt.Errorf("replacing index %q: %w", l.config.Path, err)
	}

	l.logger.Info("saved index", "path", l.config.Path, "entries", len(snap.Entries))
	return nil
}

// Close persists the index before shutdown.
func (l *LocalStore) Close() error {
	l.mu.RLock()
	ready := l.ready
	l.mu.RUnlock()
	if !ready {
		return nil
	}
	return l.Save()
}
