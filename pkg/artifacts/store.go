// Package artifacts keeps track of what the kiosk has produced and prunes it
// once it falls out of the retention window.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/video-system/go-photo-kiosk/internal/metrics"
)

// Kind names what produced an artifact.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindCollage  Kind = "collage"
	KindFlipbook Kind = "flipbook"
)

const indexFile = "index.json"

// Config holds store configuration
type Config struct {
	Path          string        `yaml:"path" env:"PATH"`                     // where index.json lives
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`           // 0 = keep forever
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"` // default 1m
}

// Artifact is one produced output. Files are removed together when it
// expires.
type Artifact struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`            // primary file, e.g. the PDF
	Files     []string  `json:"files,omitempty"` // every file, Path included
	Dir       string    `json:"dir,omitempty"`   // removed after Files when set
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Status summarises the store.
type Status struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"total_bytes"`
	Oldest     int64 `json:"oldest,omitempty"` // unix ms
	Newest     int64 `json:"newest,omitempty"` // unix ms
}

// Store records artifacts and persists the list to index.json.
type Store struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	items map[string]*Artifact

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a store. The index is not read until Start.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create artifact index path: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		items:  make(map[string]*Artifact),
	}, nil
}

// Start loads the existing index and begins the retention sweep.
func (s *Store) Start(ctx context.Context) error {
	if err := s.load(); err != nil {
		s.logger.Warn("artifacts: index not loaded", "error", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.sweepLoop(ctx)

	s.logger.Info("artifacts: store started", "count", len(s.items), "retention", s.cfg.Retention)
	return nil
}

// Stop ends the sweep and writes the index.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if err := s.save(); err != nil {
		s.logger.Warn("artifacts: index not saved", "error", err)
	}
}

// Add records files under kind. The first file is the primary one.
func (s *Store) Add(kind Kind, dir string, files ...string) *Artifact {
	a := &Artifact{
		ID:        strings.ToLower(ulid.Make().String()),
		Kind:      kind,
		Files:     files,
		Dir:       dir,
		CreatedAt: s.now(),
	}
	if len(files) > 0 {
		a.Path = files[0]
	}
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			a.SizeBytes += info.Size()
		}
	}

	s.mu.Lock()
	s.items[a.ID] = a
	n := len(s.items)
	s.mu.Unlock()
	metrics.ArtifactsStored.WithLabelValues(string(kind)).Inc()

	// Persist every few additions so a crash loses little.
	if n%10 == 0 {
		go func() {
			if err := s.save(); err != nil {
				s.logger.Warn("artifacts: index not saved", "error", err)
			}
		}()
	}
	return a
}

// Get returns an artifact by ID.
func (s *Store) Get(id string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	return a, ok
}

// Owns reports whether path is one of the recorded files.
func (s *Store) Owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.items {
		for _, f := range a.Files {
			if fa, err := filepath.Abs(f); err == nil && fa == abs {
				return true
			}
		}
	}
	return false
}

// List returns artifacts newest first, optionally of one kind.
func (s *Store) List(kind Kind) []*Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Artifact, 0, len(s.items))
	for _, a := range s.items {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Status returns the current store summary.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Count: len(s.items)}
	for _, a := range s.items {
		st.TotalBytes += a.SizeBytes
		ms := a.CreatedAt.UnixMilli()
		if st.Oldest == 0 || ms < st.Oldest {
			st.Oldest = ms
		}
		if ms > st.Newest {
			st.Newest = ms
		}
	}
	return st
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes artifacts older than the retention window and returns how
// many went.
func (s *Store) Sweep() int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.Retention)

	s.mu.Lock()
	var expired []*Artifact
	for id, a := range s.items {
		if a.CreatedAt.Before(cutoff) {
			expired = append(expired, a)
			delete(s.items, id)
		}
	}
	s.mu.Unlock()

	for _, a := range expired {
		metrics.ArtifactsStored.WithLabelValues(string(a.Kind)).Dec()
		metrics.ArtifactsExpiredTotal.Inc()
		for _, f := range a.Files {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("artifacts: file not removed", "path", f, "error", err)
			}
		}
		if a.Dir != "" {
			if err := os.Remove(a.Dir); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("artifacts: dir not removed", "path", a.Dir, "error", err)
			}
		}
	}
	if len(expired) > 0 {
		s.logger.Info("artifacts: expired", "removed", len(expired), "kept", s.Status().Count)
	}
	return len(expired)
}

// load reads index.json, skipping entries whose primary file is gone.
func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.cfg.Path, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range idx.Artifacts {
		if _, err := os.Stat(a.Path); err != nil {
			continue
		}
		s.items[a.ID] = a
		metrics.ArtifactsStored.WithLabelValues(string(a.Kind)).Inc()
	}
	return nil
}

func (s *Store) save() error {
	idx := index{UpdatedAt: s.now(), Artifacts: s.List("")}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a reader never sees a torn index.
	path := filepath.Join(s.cfg.Path, indexFile)
	tmp, err := os.CreateTemp(s.cfg.Path, indexFile+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// index is the on-disk format
type index struct {
	UpdatedAt time.Time   `json:"updated_at"`
	Artifacts []*Artifact `json:"artifacts"`
}
