package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/models"
)

// MemorySnapshotStore keeps snapshots in process memory. It is the default
// backend and the reference implementation for the adapter contract.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]*models.Snapshot // portfolio id -> ascending by timestamp
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string][]*models.Snapshot)}
}

// Initialize is a no-op for the memory store.
func (s *MemorySnapshotStore) Initialize(ctx context.Context) error {
	return nil
}

// Save appends the snapshot, keeping the per-portfolio slice sorted.
func (s *MemorySnapshotStore) Save(ctx context.Context, snapshot *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.snapshots[snapshot.PortfolioID], snapshot)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	s.snapshots[snapshot.PortfolioID] = list
	return nil
}

// List returns snapshots ascending by timestamp, filtered by opts.
func (s *MemorySnapshotStore) List(ctx context.Context, portfolioID string, opts ListOptions) ([]*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterSnapshots(s.snapshots[portfolioID], opts), nil
}

// Delete removes one snapshot by id.
func (s *MemorySnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for portfolioID, list := range s.snapshots {
		for i, snap := range list {
			if snap.ID == snapshotID {
				s.snapshots[portfolioID] = append(list[:i:i], list[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// DeleteOlderThan removes snapshots before cutoff and returns the count.
func (s *MemorySnapshotStore) DeleteOlderThan(ctx context.Context, portfolioID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.snapshots[portfolioID]
	kept := make([]*models.Snapshot, 0, len(list))
	for _, snap := range list {
		if !snap.Timestamp.Before(cutoff) {
			kept = append(kept, snap)
		}
	}
	deleted := len(list) - len(kept)
	s.snapshots[portfolioID] = kept
	return deleted, nil
}

// DeletePortfolio removes the whole history of one portfolio.
func (s *MemorySnapshotStore) DeletePortfolio(ctx context.Context, portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, portfolioID)
	return nil
}

// Cleanup is a no-op for the memory store.
func (s *MemorySnapshotStore) Cleanup(ctx context.Context) error {
	return nil
}
