package app

import "musiguess/internal/domain"

// LocalView is what one participant's client renders. It is derived from the latest
// accepted room snapshot plus client-local state (countdown, streak, own guess).
type LocalView struct {
	RoomID        string                    `json:"roomId"`
	ParticipantID string                    `json:"participantId"`
	IsHost        bool                      `json:"isHost"`
	Artist        string                    `json:"artist"`
	Mode          domain.Mode               `json:"mode"`
	Difficulty    domain.Difficulty         `json:"difficulty"`
	Status        domain.Status             `json:"status"`
	GameState     domain.GameState          `json:"gameState,omitempty"`
	Round         int                       `json:"round"`
	RoundCount    int                       `json:"roundCount"`
	Remaining     int                       `json:"remaining"`
	SuddenDeath   bool                      `json:"suddenDeath"`
	Song          *SongView                 `json:"song,omitempty"`
	Guess         *domain.GuessRecord       `json:"guess,omitempty"`
	Streak        int                       `json:"streak"`
	Answered      int                       `json:"answered"`
	Leaderboard   []domain.LeaderboardEntry `json:"leaderboard"`
}

// SongView hides the answer until the round is revealed.
type SongView struct {
	PreviewURL   string   `json:"previewUrl"`
	Options      []string `json:"options"`
	Answer       string   `json:"answer,omitempty"`
	ArtworkURL   string   `json:"artworkUrl,omitempty"`
	TrackViewURL string   `json:"trackViewUrl,omitempty"`
}

func newSongView(song domain.RoundSong, revealed bool) *SongView {
	v := &SongView{PreviewURL: song.PreviewURL, Options: make([]string, 0, len(song.Options))}
	for _, o := range song.Options {
		v.Options = append(v.Options, o.TrackName)
	}
	if revealed {
		v.Answer = song.TrackName
		v.ArtworkURL = song.ArtworkURL100
		v.TrackViewURL = song.TrackViewURL
	}
	return v
}
