package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"musiguess/internal/domain"
)

// TrackLoader fetches playable tracks from the metadata provider.
type TrackLoader interface {
	FetchTracks(ctx context.Context, artist string) ([]domain.Track, error)
}

// TrackRepository caches track lists in Redis and falls back to a loader on cache miss.
// Lists are stored as: SET tracks:{artist} <json>
type TrackRepository struct {
	client *redis.Client
	loader TrackLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewTrackRepository(client *redis.Client, loader TrackLoader, ttl time.Duration) *TrackRepository {
	return &TrackRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TrackRepository) Tracks(ctx context.Context, artist string) ([]domain.Track, error) {
	key := r.key(artist)
	if tracks, ok := r.cached(ctx, key); ok {
		return tracks, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if tracks, ok := r.cached(ctx, key); ok {
			return tracks, nil
		}

		tracks, err := r.loader.FetchTracks(ctx, artist)
		if err != nil {
			return nil, err
		}
		if len(tracks) == 0 {
			return tracks, nil
		}
		raw, err := json.Marshal(tracks)
		if err != nil {
			return nil, err
		}
		if err := r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err(); err != nil {
			log.Warn().Err(err).Str("artist", artist).Msg("cache tracks")
		}
		return tracks, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Track), nil
}

func (r *TrackRepository) cached(ctx context.Context, key string) ([]domain.Track, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var tracks []domain.Track
	if err := json.Unmarshal(raw, &tracks); err != nil || len(tracks) == 0 {
		return nil, false
	}
	return tracks, true
}

func (r *TrackRepository) key(artist string) string {
	return "tracks:" + strings.ToLower(strings.TrimSpace(artist))
}

func (r *TrackRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
