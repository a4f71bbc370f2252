package tracks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps the track library in memory. Used when no
// database is configured, and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	tracks map[string]Track // keyed by title
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tracks: make(map[string]Track)}
}

func (r *MemoryRepository) Create(ctx context.Context, track *Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if track.ID == "" {
		track.ID = uuid.New().String()
	}
	if track.CreatedAt.IsZero() {
		track.CreatedAt = time.Now()
	}
	r.tracks[track.Title] = *track
	return nil
}

func (r *MemoryRepository) GetByTitle(ctx context.Context, title string) (*Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[title]
	if !ok {
		return nil, ErrTrackNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Track, 0, len(r.tracks))
	for _, t := range r.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[title]; !ok {
		return ErrTrackNotFound
	}
	delete(r.tracks, title)
	return nil
}
