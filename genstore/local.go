package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps generations in-process.
// Generations come from one store-wide sequence, so a key that was pruned and
// later bumped again never gets back a generation it held before.
type LocalGenStore struct {
	mu     sync.RWMutex
	gens   map[string]localGenEntry
	seq    uint64
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		gens: make(map[string]localGenEntry),
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[k]
	s.mu.RUnlock()
	return e.Gen, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	s.seq++
	e := localGenEntry{Gen: s.seq, UpdatedAt: now}
	s.gens[k] = e
	s.mu.Unlock()
	return e.Gen, nil
}

// BumpMatching holds the write lock for the whole scan so no key can be
// bumped in between and miss the invalidation.
func (s *LocalGenStore) BumpMatching(_ context.Context, match func(string) bool) ([]string, error) {
	now := time.Now()
	var keys []string
	s.mu.Lock()
	for k := range s.gens {
		if !match(k) {
			continue
		}
		s.seq++
		s.gens[k] = localGenEntry{Gen: s.seq, UpdatedAt: now}
		keys = append(keys, k)
	}
	s.mu.Unlock()
	return keys, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.gens {
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
