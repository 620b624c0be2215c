package memory

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"musiguess/internal/domain"
)

// TrackLoader fetches playable tracks from the metadata provider.
type TrackLoader interface {
	FetchTracks(ctx context.Context, artist string) ([]domain.Track, error)
}

// TrackRepository caches track lists per artist with TTL to avoid repeated provider calls.
type TrackRepository struct {
	loader TrackLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedTracks
}

type cachedTracks struct {
	tracks    []domain.Track
	expiresAt time.Time
}

func NewTrackRepository(loader TrackLoader, ttl time.Duration) *TrackRepository {
	return NewTrackRepositoryWithClock(loader, ttl, clockwork.NewRealClock())
}

// NewTrackRepositoryWithClock is used by tests to control expiry.
func NewTrackRepositoryWithClock(loader TrackLoader, ttl time.Duration, clock clockwork.Clock) *TrackRepository {
	return &TrackRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedTracks),
	}
}

func (r *TrackRepository) Tracks(ctx context.Context, artist string) ([]domain.Track, error) {
	key := artistKey(artist)
	now := r.clock.Now()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.tracks, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock.Now()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.tracks, nil
		}
		r.mu.RUnlock()

		tracks, err := r.loader.FetchTracks(ctx, artist)
		if err != nil {
			return nil, err
		}
		// An empty list is not cached so the artist is retried on the next start.
		if len(tracks) == 0 {
			return tracks, nil
		}

		expiresAt := now.Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[key] = cachedTracks{tracks: tracks, expiresAt: expiresAt}
		r.mu.Unlock()
		return tracks, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Track), nil
}

func (r *TrackRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticTrackLoader is a simple loader backed by an in-memory map (useful for tests/demos).
// Artist names are matched case-insensitively.
type StaticTrackLoader struct {
	tracks map[string][]domain.Track
}

func NewStaticTrackLoader(tracks map[string][]domain.Track) *StaticTrackLoader {
	byKey := make(map[string][]domain.Track, len(tracks))
	for artist, list := range tracks {
		byKey[artistKey(artist)] = list
	}
	return &StaticTrackLoader{tracks: byKey}
}

// FetchTracks returns no tracks for unknown artists; starting a game with them fails with
// domain.ErrInsufficientCatalog.
func (l *StaticTrackLoader) FetchTracks(_ context.Context, artist string) ([]domain.Track, error) {
	return l.tracks[artistKey(artist)], nil
}

func artistKey(artist string) string {
	return strings.ToLower(strings.TrimSpace(artist))
}
