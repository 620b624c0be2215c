package app_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"musiguess/internal/app"
	"musiguess/internal/domain"
	"musiguess/internal/infra/memory"
)

const testArtist = "Daft Punk"

func catalog(n int) []domain.Track {
	tracks := make([]domain.Track, 0, n)
	for i := 0; i < n; i++ {
		tracks = append(tracks, domain.Track{
			ID:         int64(i + 1),
			Name:       fmt.Sprintf("Track %d", i+1),
			Artist:     testArtist,
			PreviewURL: fmt.Sprintf("https://audio.example/%d.m4a", i+1),
			ArtworkURL: fmt.Sprintf("https://art.example/%d/600x600bb.jpg", i+1),
		})
	}
	return tracks
}

func newTestService(store app.DocumentStore, tracks []domain.Track, opts ...app.ServiceOption) *app.GameService {
	repo := memory.NewTrackRepository(memory.NewStaticTrackLoader(map[string][]domain.Track{testArtist: tracks}), 0)
	opts = append([]app.ServiceOption{
		app.WithClock(clockwork.NewFakeClock()),
		app.WithRand(rand.New(rand.NewSource(7))),
	}, opts...)
	return app.NewGameService(store, repo, opts...)
}

func TestCreateRoomDefaults(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	service := newTestService(store, catalog(10))

	room, err := service.CreateRoom(ctx, "host", "", testArtist, "", "")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if len(room.ID) != 6 {
		t.Fatalf("expected 6-char room code, got %q", room.ID)
	}
	if room.Mode != domain.ModeMulti || room.Difficulty != domain.DifficultyNormal || room.Status != domain.StatusWaiting {
		t.Fatalf("unexpected defaults: %+v", room)
	}
	host := room.Players["host"]
	if !host.IsHost || host.Name != "Player 1" || len(room.Players) != 1 {
		t.Fatalf("expected host as only player, got %+v", room.Players)
	}

	stored, err := store.Get(ctx, room.ID)
	if err != nil || stored.HostID != "host" {
		t.Fatalf("expected stored room, got %+v, %v", stored, err)
	}
}

func TestCreateRoomRejectsBadSettings(t *testing.T) {
	service := newTestService(memory.NewDocumentStore(), nil)
	cases := []struct {
		name       string
		artist     string
		mode       domain.Mode
		difficulty domain.Difficulty
	}{
		{name: "no artist", artist: " "},
		{name: "bad mode", artist: testArtist, mode: "duo"},
		{name: "bad difficulty", artist: testArtist, difficulty: "nightmare"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.CreateRoom(context.Background(), "host", "Host", tc.artist, tc.mode, tc.difficulty)
			if !errors.Is(err, domain.ErrInvalidRoomSettings) {
				t.Fatalf("expected ErrInvalidRoomSettings, got %v", err)
			}
		})
	}
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	service := newTestService(memory.NewDocumentStore(), catalog(10))
	room, _ := service.CreateRoom(ctx, "p0", "Host", testArtist, domain.ModeMulti, domain.DifficultyNormal)

	for i := 1; i < domain.MaxPlayers; i++ {
		joined, err := service.Join(ctx, room.ID, fmt.Sprintf("p%d", i), "")
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		if got := joined.Players[fmt.Sprintf("p%d", i)].Name; got != fmt.Sprintf("Player %d", i+1) {
			t.Fatalf("expected default name Player %d, got %q", i+1, got)
		}
	}

	if _, err := service.Join(ctx, room.ID, "p6", ""); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	again, err := service.Join(ctx, room.ID, "p3", "Renamed")
	if err != nil || again.Players["p3"].Name != "Player 4" {
		t.Fatalf("rejoin must be a no-op, got %+v, %v", again.Players["p3"], err)
	}
	if _, err := service.Join(ctx, "NOPE00", "x", ""); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestJoinRejectsInvalidParticipantIDs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	service := newTestService(store, catalog(10))
	room, _ := service.CreateRoom(ctx, "host", "Host", testArtist, domain.ModeMulti, "")

	for _, id := range []string{"", "ghost/x", " pad", strings.Repeat("a", domain.MaxParticipantIDLength+1)} {
		if _, err := service.Join(ctx, room.ID, id, "Eve"); !errors.Is(err, domain.ErrInvalidParticipant) {
			t.Fatalf("id %q: expected ErrInvalidParticipant, got %v", id, err)
		}
	}
	stored, _ := store.Get(ctx, room.ID)
	if len(stored.Players) != 1 {
		t.Fatalf("rejected joins must not add players, got %+v", stored.Players)
	}
	if _, ok := stored.Players["ghost"]; ok {
		t.Fatalf("slash id must not create a nested player entry")
	}

	if _, err := service.CreateRoom(ctx, "a/b", "", testArtist, "", ""); !errors.Is(err, domain.ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant for host id, got %v", err)
	}
}

func TestJoinSoloAndStartedRooms(t *testing.T) {
	ctx := context.Background()
	service := newTestService(memory.NewDocumentStore(), catalog(10))

	solo, _ := service.CreateRoom(ctx, "p0", "", testArtist, domain.ModeSolo, "")
	if _, err := service.Join(ctx, solo.ID, "p1", ""); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("solo rooms must not accept guests, got %v", err)
	}
	if err := service.StartGame(ctx, solo.ID, "p0"); err != nil {
		t.Fatalf("solo start: %v", err)
	}

	multi, _ := service.CreateRoom(ctx, "p0", "", testArtist, domain.ModeMulti, "")
	_, _ = service.Join(ctx, multi.ID, "p1", "")
	if err := service.StartGame(ctx, multi.ID, "p0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.Join(ctx, multi.ID, "p2", ""); !errors.Is(err, domain.ErrGameInProgress) {
		t.Fatalf("expected ErrGameInProgress, got %v", err)
	}
}

func TestStartGameGuards(t *testing.T) {
	ctx := context.Background()
	service := newTestService(memory.NewDocumentStore(), catalog(10))
	room, _ := service.CreateRoom(ctx, "p0", "", testArtist, domain.ModeMulti, "")

	if err := service.StartGame(ctx, room.ID, "p0"); !errors.Is(err, domain.ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}
	_, _ = service.Join(ctx, room.ID, "p1", "")
	if err := service.StartGame(ctx, room.ID, "p1"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}

func TestStartGameInsufficientCatalogKeepsWaiting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	tracks := catalog(4)
	// Duplicate titles and tracks without previews do not count.
	tracks = append(tracks,
		domain.Track{ID: 90, Name: "track 1", PreviewURL: "https://audio.example/dup.m4a"},
		domain.Track{ID: 91, Name: "No Preview"},
	)
	service := newTestService(store, tracks)
	room, _ := service.CreateRoom(ctx, "p0", "", testArtist, domain.ModeSolo, "")

	if err := service.StartGame(ctx, room.ID, "p0"); !errors.Is(err, domain.ErrInsufficientCatalog) {
		t.Fatalf("expected ErrInsufficientCatalog, got %v", err)
	}
	stored, _ := store.Get(ctx, room.ID)
	if stored.Status != domain.StatusWaiting || len(stored.Songs) != 0 {
		t.Fatalf("room must stay waiting, got %+v", stored)
	}
}

func TestStartGameBuildsRounds(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	clock := clockwork.NewFakeClock()
	service := newTestService(store, catalog(8), app.WithClock(clock))
	room, _ := service.CreateRoom(ctx, "p0", "", testArtist, domain.ModeSolo, domain.DifficultyHard)

	if err := service.StartGame(ctx, room.ID, "p0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	started, _ := store.Get(ctx, room.ID)
	if started.Status != domain.StatusPlaying || started.GameState != domain.GameStatePreview || started.CurrentRoundIndex != 0 {
		t.Fatalf("unexpected state after start: %+v", started)
	}
	if started.RoundState.StartedAt != clock.Now().UnixMilli() {
		t.Fatalf("expected round start timestamp, got %d", started.RoundState.StartedAt)
	}
	if len(started.Songs) != domain.RoundCount {
		t.Fatalf("expected %d songs, got %d", domain.RoundCount, len(started.Songs))
	}

	answers := make(map[string]bool)
	for i, song := range started.Songs {
		if len(song.Options) != domain.OptionCount {
			t.Fatalf("song %d: expected %d options, got %d", i, domain.OptionCount, len(song.Options))
		}
		if !song.HasOption(song.TrackName) {
			t.Fatalf("song %d: answer %q missing from options", i, song.TrackName)
		}
		titles := make(map[string]bool)
		for _, o := range song.Options {
			if titles[o.TrackName] {
				t.Fatalf("song %d: duplicate option %q", i, o.TrackName)
			}
			titles[o.TrackName] = true
		}
		if answers[song.TrackName] {
			t.Fatalf("song %q picked twice", song.TrackName)
		}
		answers[song.TrackName] = true
	}

	if err := service.StartGame(ctx, room.ID, "p0"); !errors.Is(err, domain.ErrGameInProgress) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
}

func TestSearchArtistsShortQuery(t *testing.T) {
	searcher := &stubSearcher{artists: []domain.Artist{{ID: 1, Name: testArtist}}}
	service := newTestService(memory.NewDocumentStore(), nil, app.WithArtistSearcher(searcher))

	got, err := service.SearchArtists(context.Background(), " d ")
	if err != nil || len(got) != 0 || searcher.calls != 0 {
		t.Fatalf("expected empty result without lookup, got %v, %v, calls=%d", got, err, searcher.calls)
	}
	got, err = service.SearchArtists(context.Background(), "daft")
	if err != nil || len(got) != 1 || searcher.calls != 1 {
		t.Fatalf("expected one artist, got %v, %v", got, err)
	}
}

type stubSearcher struct {
	artists []domain.Artist
	calls   int
}

func (s *stubSearcher) SearchArtists(context.Context, string) ([]domain.Artist, error) {
	s.calls++
	return s.artists, nil
}
