package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"musiguess/internal/domain"
)

func TestTrackRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		TrackLoader: NewStaticTrackLoader(map[string][]domain.Track{
			"Daft Punk": sampleTracks(),
		}),
	}
	repo := NewTrackRepository(loader, time.Minute)

	tracks, err := repo.Tracks(context.Background(), "daft punk")
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if len(tracks) != 2 || loader.calls != 1 {
		t.Fatalf("expected 2 tracks from one load, got %d tracks, %d calls", len(tracks), loader.calls)
	}

	if _, err := repo.Tracks(context.Background(), "  Daft Punk "); err != nil {
		t.Fatalf("tracks 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestTrackRepositoryExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loader := &countingLoader{TrackLoader: NewStaticTrackLoader(map[string][]domain.Track{"a": sampleTracks()})}
	repo := NewTrackRepositoryWithClock(loader, time.Minute, clock)

	_, _ = repo.Tracks(context.Background(), "a")
	clock.Advance(2 * time.Minute)
	_, _ = repo.Tracks(context.Background(), "a")
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d calls", loader.calls)
	}
}

func TestTrackRepositoryLoadsWithTTLWithoutBlocking(t *testing.T) {
	loader := &countingLoader{TrackLoader: NewStaticTrackLoader(map[string][]domain.Track{"a": sampleTracks()})}
	repo := NewTrackRepository(loader, time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := repo.Tracks(context.Background(), "a")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("tracks: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first load with a ttl never returned")
	}

	repo.mu.RLock()
	entry, ok := repo.cache["a"]
	repo.mu.RUnlock()
	if !ok || entry.expiresAt.Before(repo.clock.Now().Add(time.Hour)) {
		t.Fatalf("expected entry cached for at least the ttl, got %+v", entry)
	}
}

func TestTrackRepositoryDoesNotCacheEmptyLists(t *testing.T) {
	clock := clockwork.NewFakeClock()
	static := NewStaticTrackLoader(nil)
	loader := &countingLoader{TrackLoader: static}
	repo := NewTrackRepositoryWithClock(loader, time.Hour, clock)

	if tracks, err := repo.Tracks(context.Background(), "Daft Punk"); err != nil || len(tracks) != 0 {
		t.Fatalf("expected empty result, got %v, %v", tracks, err)
	}
	static.tracks[artistKey("Daft Punk")] = sampleTracks()

	tracks, err := repo.Tracks(context.Background(), "Daft Punk")
	if err != nil || len(tracks) != 2 {
		t.Fatalf("expected tracks after provider recovered, got %v, %v", tracks, err)
	}
	if loader.calls != 2 {
		t.Fatalf("empty list must not be cached, loader calls %d", loader.calls)
	}
}

func TestStaticLoaderUnknownArtist(t *testing.T) {
	tracks, err := NewStaticTrackLoader(nil).FetchTracks(context.Background(), "nobody")
	if err != nil || len(tracks) != 0 {
		t.Fatalf("expected empty result, got %v, %v", tracks, err)
	}
}

type countingLoader struct {
	TrackLoader
	calls int
}

func (l *countingLoader) FetchTracks(ctx context.Context, artist string) ([]domain.Track, error) {
	l.calls++
	return l.TrackLoader.FetchTracks(ctx, artist)
}

func sampleTracks() []domain.Track {
	return []domain.Track{
		{ID: 1, Name: "One More Time", Artist: "Daft Punk", PreviewURL: "https://p/1.m4a"},
		{ID: 2, Name: "Digital Love", Artist: "Daft Punk", PreviewURL: "https://p/2.m4a"},
	}
}
