package domain

import (
	"sort"
	"time"
)

// Fixed game dimensions.
const (
	RoundCount  = 5
	OptionCount = 4
	MaxPlayers  = 6

	// TimeoutSelection is recorded as the selection when the round clock ran out.
	TimeoutSelection = "TIMEOUT"
)

type Mode string

const (
	ModeSolo  Mode = "solo"
	ModeMulti Mode = "multi"
)

// Status is the coarse room lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusGameOver Status = "gameOver"
)

// GameState is only meaningful while Status is StatusPlaying.
type GameState string

const (
	GameStatePreview GameState = "preview"
	GameStateReveal  GameState = "reveal"
)

type Difficulty string

const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyNormal  Difficulty = "normal"
	DifficultyHard    Difficulty = "hard"
	DifficultyExtreme Difficulty = "extreme"
)

// Valid reports whether d is one of the known presets.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyNormal, DifficultyHard, DifficultyExtreme:
		return true
	}
	return false
}

type SpeedTier string

const (
	SpeedLightning SpeedTier = "lightning"
	SpeedFast      SpeedTier = "fast"
	SpeedGood      SpeedTier = "good"
	SpeedBase      SpeedTier = "base"
)

// ScoreResult is the breakdown produced by the scoring engine.
type ScoreResult struct {
	Points      int       `json:"points"`
	SpeedTier   SpeedTier `json:"speedTier"`
	StreakBonus int       `json:"streakBonus"`
	TotalPoints int       `json:"totalPoints"`
}

// Room is the shared room document. ID is the document key and is not stored in the body.
type Room struct {
	ID                string            `json:"-"`
	HostID            string            `json:"hostId"`
	Artist            string            `json:"artist"`
	Status            Status            `json:"status"`
	Mode              Mode              `json:"mode"`
	Difficulty        Difficulty        `json:"difficulty,omitempty"`
	CreatedAt         int64             `json:"createdAt"`
	Players           map[string]Player `json:"players,omitempty"`
	Songs             []RoundSong       `json:"songs,omitempty"`
	CurrentRoundIndex int               `json:"currentRoundIndex"`
	GameState         GameState         `json:"gameState,omitempty"`
	RoundState        RoundState        `json:"roundState"`
}

// Player is a participant's entry in the room document.
type Player struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Misses   int    `json:"misses"`
	IsHost   bool   `json:"isHost"`
	JoinedAt int64  `json:"joinedAt"`
}

// RoundSong is one round's track plus its four fixed answer options.
type RoundSong struct {
	TrackID       int64        `json:"trackId"`
	TrackName     string       `json:"trackName"`
	ArtistName    string       `json:"artistName"`
	PreviewURL    string       `json:"previewUrl"`
	ArtworkURL100 string       `json:"artworkUrl100"`
	TrackViewURL  string       `json:"trackViewUrl"`
	Options       []SongOption `json:"options"`
}

type SongOption struct {
	TrackName     string `json:"trackName"`
	ArtworkURL100 string `json:"artworkUrl100"`
	TrackID       int64  `json:"trackId"`
}

// RoundState is recreated for every round.
type RoundState struct {
	StartedAt   int64                  `json:"startedAt"`
	SuddenDeath bool                   `json:"suddenDeath,omitempty"`
	Guesses     map[string]GuessRecord `json:"guesses,omitempty"`
	Votes       map[string]Vote        `json:"votes,omitempty"`
}

// GuessRecord is written once per participant per round.
type GuessRecord struct {
	Selection   string    `json:"selection"`
	IsCorrect   bool      `json:"isCorrect"`
	ScoreDelta  int       `json:"scoreDelta"`
	SpeedTier   SpeedTier `json:"speedTier"`
	StreakBonus int       `json:"streakBonus"`
}

// NewGuessRecord builds the record a participant publishes for a round.
func NewGuessRecord(selection string, correct bool, result ScoreResult) GuessRecord {
	return GuessRecord{
		Selection:   selection,
		IsCorrect:   correct,
		ScoreDelta:  result.TotalPoints,
		SpeedTier:   result.SpeedTier,
		StreakBonus: result.StreakBonus,
	}
}

type Vote struct {
	Ready bool `json:"ready"`
}

// Track is a playable song returned by the metadata provider.
type Track struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	PreviewURL string `json:"previewUrl"`
	ArtworkURL string `json:"artworkUrl"`
	ViewURL    string `json:"viewUrl"`
}

// Artist is an artist search hit.
type Artist struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Genre    string `json:"genre"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// LeaderboardEntry is a snapshot-friendly view of a player.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Misses        int    `json:"misses"`
	IsHost        bool   `json:"isHost"`
}

// GameResult is the final leaderboard of a finished room.
type GameResult struct {
	RoomID     string             `json:"roomId"`
	Artist     string             `json:"artist"`
	Mode       Mode               `json:"mode"`
	Difficulty Difficulty         `json:"difficulty"`
	FinishedAt time.Time          `json:"finishedAt"`
	Entries    []LeaderboardEntry `json:"entries"`
}

// PlayerIDs returns participant ids in join order (ties broken by id).
func (r Room) PlayerIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for id := range r.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := r.Players[ids[i]], r.Players[ids[j]]
		if pi.JoinedAt != pj.JoinedAt {
			return pi.JoinedAt < pj.JoinedAt
		}
		return ids[i] < ids[j]
	})
	return ids
}

// IsHost reports whether participantID is the room's designated host.
// HostID is authoritative; per-player isHost flags are display data only.
func (r Room) IsHost(participantID string) bool {
	return participantID != "" && participantID == r.HostID
}

// CurrentSong returns the song for CurrentRoundIndex if the game has one.
func (r Room) CurrentSong() (RoundSong, bool) {
	if r.CurrentRoundIndex < 0 || r.CurrentRoundIndex >= len(r.Songs) {
		return RoundSong{}, false
	}
	return r.Songs[r.CurrentRoundIndex], true
}

// Leaderboard orders players by score desc, then join time, then name.
func (r Room) Leaderboard() []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(r.Players))
	for id, p := range r.Players {
		entries = append(entries, LeaderboardEntry{
			ParticipantID: id,
			Name:          p.Name,
			Score:         p.Score,
			Misses:        p.Misses,
			IsHost:        r.IsHost(id),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := r.Players[entries[i].ParticipantID]
		pj := r.Players[entries[j].ParticipantID]
		if pi.JoinedAt != pj.JoinedAt {
			return pi.JoinedAt < pj.JoinedAt
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// HasOption reports whether selection is one of the song's option titles.
func (s RoundSong) HasOption(selection string) bool {
	for _, o := range s.Options {
		if o.TrackName == selection {
			return true
		}
	}
	return false
}

type EventType string

const (
	EventRoomCreated   EventType = "room.created"
	EventGameStarted   EventType = "game.started"
	EventRoundRevealed EventType = "round.revealed"
	EventGameOver      EventType = "game.over"
)

// GameEvent is a lifecycle notification for consumers outside the room.
type GameEvent struct {
	Type        EventType          `json:"type"`
	RoomID      string             `json:"roomId"`
	Round       int                `json:"round"`
	At          time.Time          `json:"at"`
	Leaderboard []LeaderboardEntry `json:"leaderboard,omitempty"`
}
