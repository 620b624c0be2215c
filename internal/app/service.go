package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"musiguess/internal/domain"
	"musiguess/internal/monitoring"
)

// DocumentStore abstracts the shared room document store (in-memory, Redis, etc).
// Subscribers receive full snapshots; intermediate versions may be skipped.
type DocumentStore interface {
	CreateIfAbsent(ctx context.Context, room domain.Room) error
	Get(ctx context.Context, roomID string) (domain.Room, error)
	Patch(ctx context.Context, roomID string, patch domain.Patch) error
	// Update reads the room and writes the patch fn returns as one atomic step.
	// A nil patch writes nothing.
	Update(ctx context.Context, roomID string, fn func(domain.Room) (domain.Patch, error)) error
	Subscribe(ctx context.Context, roomID string) (<-chan domain.Room, func(), error)
}

// TrackRepository returns playable tracks for an artist (from cache/backing provider).
type TrackRepository interface {
	Tracks(ctx context.Context, artist string) ([]domain.Track, error)
}

type ArtistSearcher interface {
	SearchArtists(ctx context.Context, term string) ([]domain.Artist, error)
}

// ResultRecorder persists final leaderboards.
type ResultRecorder interface {
	RecordResult(ctx context.Context, result domain.GameResult) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.GameEvent) error
}

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	createAttempts   = 5
	minArtistQuery   = 2
)

// GameService contains the lobby use cases: create, join, start and artist search.
type GameService struct {
	rooms   DocumentStore
	tracks  TrackRepository
	artists ArtistSearcher
	events  EventPublisher
	metrics *monitoring.Metrics
	clock   clockwork.Clock

	mu  sync.Mutex
	rnd *rand.Rand
}

type ServiceOption func(*GameService)

func WithArtistSearcher(a ArtistSearcher) ServiceOption {
	return func(s *GameService) { s.artists = a }
}

func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *GameService) { s.events = p }
}

func WithMetrics(m *monitoring.Metrics) ServiceOption {
	return func(s *GameService) { s.metrics = m }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(c clockwork.Clock) ServiceOption {
	return func(s *GameService) { s.clock = c }
}

// WithRand seeds room codes and song selection.
func WithRand(r *rand.Rand) ServiceOption {
	return func(s *GameService) { s.rnd = r }
}

func NewGameService(rooms DocumentStore, tracks TrackRepository, opts ...ServiceOption) *GameService {
	s := &GameService{
		rooms:  rooms,
		tracks: tracks,
		clock:  clockwork.NewRealClock(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom opens a lobby with the host as its only player.
func (s *GameService) CreateRoom(ctx context.Context, hostID, hostName, artist string, mode domain.Mode, difficulty domain.Difficulty) (domain.Room, error) {
	if !domain.ValidParticipantID(hostID) {
		return domain.Room{}, fmt.Errorf("%w: %q", domain.ErrInvalidParticipant, hostID)
	}
	artist = strings.TrimSpace(artist)
	if artist == "" {
		return domain.Room{}, domain.ErrInvalidRoomSettings
	}
	if mode == "" {
		mode = domain.ModeMulti
	}
	if mode != domain.ModeSolo && mode != domain.ModeMulti {
		return domain.Room{}, fmt.Errorf("%w: mode %q", domain.ErrInvalidRoomSettings, mode)
	}
	if difficulty == "" {
		difficulty = domain.DifficultyNormal
	}
	if !difficulty.Valid() {
		return domain.Room{}, fmt.Errorf("%w: difficulty %q", domain.ErrInvalidRoomSettings, difficulty)
	}
	if hostName = strings.TrimSpace(hostName); hostName == "" {
		hostName = playerName(0)
	}

	now := s.clock.Now().UnixMilli()
	room := domain.Room{
		HostID:     hostID,
		Artist:     artist,
		Status:     domain.StatusWaiting,
		Mode:       mode,
		Difficulty: difficulty,
		CreatedAt:  now,
		Players: map[string]domain.Player{
			hostID: {Name: hostName, IsHost: true, JoinedAt: now},
		},
	}

	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		room.ID = s.roomCode()
		err = s.rooms.CreateIfAbsent(ctx, room)
		if err == nil {
			s.metrics.RoomCreated()
			s.publish(ctx, domain.GameEvent{Type: domain.EventRoomCreated, RoomID: room.ID, At: s.clock.Now()})
			log.Info().Str("room_id", room.ID).Str("artist", artist).Str("mode", string(mode)).Msg("room created")
			return room, nil
		}
		if !errors.Is(err, domain.ErrRoomExists) {
			return domain.Room{}, err
		}
	}
	return domain.Room{}, err
}

// Join adds a participant to a waiting room. Joining a room the participant is already in
// returns the room unchanged.
func (s *GameService) Join(ctx context.Context, roomID, participantID, name string) (domain.Room, error) {
	if !domain.ValidParticipantID(participantID) {
		return domain.Room{}, fmt.Errorf("%w: %q", domain.ErrInvalidParticipant, participantID)
	}
	err := s.rooms.Update(ctx, roomID, func(room domain.Room) (domain.Patch, error) {
		if _, ok := room.Players[participantID]; ok {
			return nil, nil
		}
		if room.Status != domain.StatusWaiting {
			return nil, domain.ErrGameInProgress
		}
		if room.Mode == domain.ModeSolo || len(room.Players) >= domain.MaxPlayers {
			return nil, domain.ErrRoomFull
		}
		display := strings.TrimSpace(name)
		if display == "" {
			display = playerName(len(room.Players))
		}
		return domain.Patch{
			domain.PlayerPath(participantID): domain.Player{
				Name:     display,
				JoinedAt: s.clock.Now().UnixMilli(),
			},
		}, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return s.rooms.Get(ctx, roomID)
}

// StartGame picks the round songs and moves the room from waiting to playing. On any
// failure the room stays in waiting.
func (s *GameService) StartGame(ctx context.Context, roomID, requesterID string) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if err := canStart(room, requesterID); err != nil {
		return err
	}

	tracks, err := s.tracks.Tracks(ctx, room.Artist)
	if err != nil {
		return fmt.Errorf("fetch tracks for %q: %w", room.Artist, err)
	}
	s.mu.Lock()
	songs, err := buildSongs(tracks, s.rnd)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	err = s.rooms.Update(ctx, roomID, func(current domain.Room) (domain.Patch, error) {
		if err := canStart(current, requesterID); err != nil {
			return nil, err
		}
		return domain.Patch{
			"status":            domain.StatusPlaying,
			"songs":             songs,
			"currentRoundIndex": 0,
			"gameState":         domain.GameStatePreview,
			"roundState":        domain.RoundState{StartedAt: s.clock.Now().UnixMilli()},
		}, nil
	})
	if err != nil {
		return err
	}

	s.metrics.GameStarted()
	s.publish(ctx, domain.GameEvent{Type: domain.EventGameStarted, RoomID: roomID, At: s.clock.Now()})
	log.Info().Str("room_id", roomID).Int("players", len(room.Players)).Msg("game started")
	return nil
}

// SearchArtists returns nothing for queries shorter than two characters.
func (s *GameService) SearchArtists(ctx context.Context, term string) ([]domain.Artist, error) {
	term = strings.TrimSpace(term)
	if s.artists == nil || len(term) < minArtistQuery {
		return []domain.Artist{}, nil
	}
	return s.artists.SearchArtists(ctx, term)
}

func (s *GameService) Room(ctx context.Context, roomID string) (domain.Room, error) {
	return s.rooms.Get(ctx, roomID)
}

func canStart(room domain.Room, requesterID string) error {
	if !room.IsHost(requesterID) {
		return domain.ErrNotHost
	}
	if room.Status != domain.StatusWaiting {
		return domain.ErrGameInProgress
	}
	switch room.Mode {
	case domain.ModeSolo:
		if len(room.Players) != 1 {
			return domain.ErrNotEnoughPlayers
		}
	default:
		if len(room.Players) < 2 {
			return domain.ErrNotEnoughPlayers
		}
	}
	return nil
}

// buildSongs picks RoundCount distinct songs, each with OptionCount-1 distractors drawn from
// the rest of the catalog. Titles are deduplicated case-insensitively so every option is
// distinguishable.
func buildSongs(tracks []domain.Track, rnd *rand.Rand) ([]domain.RoundSong, error) {
	seen := make(map[string]struct{}, len(tracks))
	unique := make([]domain.Track, 0, len(tracks))
	for _, t := range tracks {
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if key == "" || t.PreviewURL == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, t)
	}
	if len(unique) < domain.RoundCount || len(unique) < domain.OptionCount {
		return nil, fmt.Errorf("%w: %d usable tracks", domain.ErrInsufficientCatalog, len(unique))
	}

	order := rnd.Perm(len(unique))
	songs := make([]domain.RoundSong, 0, domain.RoundCount)
	for _, idx := range order[:domain.RoundCount] {
		answer := unique[idx]

		others := make([]int, 0, len(unique)-1)
		for i := range unique {
			if i != idx {
				others = append(others, i)
			}
		}
		rnd.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })

		options := []domain.SongOption{toOption(answer)}
		for _, i := range others[:domain.OptionCount-1] {
			options = append(options, toOption(unique[i]))
		}
		rnd.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

		songs = append(songs, domain.RoundSong{
			TrackID:       answer.ID,
			TrackName:     answer.Name,
			ArtistName:    answer.Artist,
			PreviewURL:    answer.PreviewURL,
			ArtworkURL100: answer.ArtworkURL,
			TrackViewURL:  answer.ViewURL,
			Options:       options,
		})
	}
	return songs, nil
}

func toOption(t domain.Track) domain.SongOption {
	return domain.SongOption{TrackName: t.Name, ArtworkURL100: t.ArtworkURL, TrackID: t.ID}
}

func playerName(existing int) string {
	return fmt.Sprintf("Player %d", existing+1)
}

func (s *GameService) roomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, roomCodeLength)
	for i := range b {
		b[i] = roomCodeAlphabet[s.rnd.Intn(len(roomCodeAlphabet))]
	}
	return string(b)
}

func (s *GameService) publish(ctx context.Context, event domain.GameEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("room_id", event.RoomID).Str("event", string(event.Type)).Msg("publish event failed")
	}
}
