package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/models"
)

// FileSnapshotStore persists snapshots as JSON lines, one file per portfolio.
// Saves append; deletions rewrite the affected file.
type FileSnapshotStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileSnapshotStore creates a file-backed store rooted at dir.
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot file path is required")
	}
	return &FileSnapshotStore{dir: dir}, nil
}

// Initialize creates the storage directory.
func (s *FileSnapshotStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return nil
}

func (s *FileSnapshotStore) path(portfolioID string) string {
	return filepath.Join(s.dir, portfolioID+".jsonl")
}

// Save appends the snapshot to the portfolio's journal file.
func (s *FileSnapshotStore) Save(ctx context.Context, snapshot *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	f, err := os.OpenFile(s.path(snapshot.PortfolioID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// load reads every snapshot for one portfolio, ascending by timestamp.
// Corrupt lines are skipped rather than failing the whole read.
func (s *FileSnapshotStore) load(portfolioID string) ([]*models.Snapshot, error) {
	f, err := os.Open(s.path(portfolioID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	var snapshots []*models.Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var snap models.Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			continue
		}
		snapshots = append(snapshots, &snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// rewrite replaces a portfolio's journal with the given snapshots.
func (s *FileSnapshotStore) rewrite(portfolioID string, snapshots []*models.Snapshot) error {
	tmp := s.path(portfolioID) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, snap := range snapshots {
		line, err := json.Marshal(snap)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	return os.Rename(tmp, s.path(portfolioID))
}

// List returns snapshots ascending by timestamp, filtered by opts.
func (s *FileSnapshotStore) List(ctx context.Context, portfolioID string, opts ListOptions) ([]*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots, err := s.load(portfolioID)
	if err != nil {
		return nil, err
	}
	return filterSnapshots(snapshots, opts), nil
}

// Delete removes one snapshot by id, scanning every portfolio journal.
func (s *FileSnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		portfolioID := strings.TrimSuffix(entry.Name(), ".jsonl")
		snapshots, err := s.load(portfolioID)
		if err != nil {
			return err
		}
		for i, snap := range snapshots {
			if snap.ID == snapshotID {
				return s.rewrite(portfolioID, append(snapshots[:i:i], snapshots[i+1:]...))
			}
		}
	}
	return nil
}

// DeleteOlderThan removes snapshots before cutoff and returns the count.
func (s *FileSnapshotStore) DeleteOlderThan(ctx context.Context, portfolioID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots, err := s.load(portfolioID)
	if err != nil {
		return 0, err
	}
	kept := make([]*models.Snapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if !snap.Timestamp.Before(cutoff) {
			kept = append(kept, snap)
		}
	}
	deleted := len(snapshots) - len(kept)
	if deleted == 0 {
		return 0, nil
	}
	if err := s.rewrite(portfolioID, kept); err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeletePortfolio removes the portfolio's journal file.
func (s *FileSnapshotStore) DeletePortfolio(ctx context.Context, portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(portfolioID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	return nil
}

// Cleanup removes stray temp files left by interrupted rewrites.
func (s *FileSnapshotStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot directory: %w", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
	return nil
}
