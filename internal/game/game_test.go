package game

import (
	"fmt"
	"testing"
	"time"

	"musiguess/internal/domain"
	"musiguess/internal/ledger"
)

func playingRoom(players int) domain.Room {
	room := domain.Room{
		ID:         "room-1",
		HostID:     "p0",
		Status:     domain.StatusPlaying,
		Mode:       domain.ModeMulti,
		GameState:  domain.GameStatePreview,
		Players:    make(map[string]domain.Player),
		RoundState: domain.RoundState{Guesses: map[string]domain.GuessRecord{}},
	}
	for i := 0; i < players; i++ {
		id := fmt.Sprintf("p%d", i)
		room.Players[id] = domain.Player{Name: fmt.Sprintf("Player %d", i+1), JoinedAt: int64(i), IsHost: i == 0}
	}
	return room
}

func withGuesses(room domain.Room, ids ...string) domain.Room {
	guesses := make(map[string]domain.GuessRecord, len(ids))
	for _, id := range ids {
		guesses[id] = domain.GuessRecord{Selection: "Song", IsCorrect: true, ScoreDelta: 1000}
	}
	room.RoundState.Guesses = guesses
	return room
}

func TestSuddenDeathBoundaries(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	cases := []struct {
		name    string
		players int
		guessed int
		active  bool
		want    bool
	}{
		{name: "four players one remaining", players: 4, guessed: 3, want: true},
		{name: "four players two remaining", players: 4, guessed: 2, want: true},
		{name: "six players three remaining", players: 6, guessed: 3, want: false},
		{name: "no guesses yet", players: 2, guessed: 0, want: false},
		{name: "already active", players: 4, guessed: 3, active: true, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			room := playingRoom(tc.players)
			ids := room.PlayerIDs()[:tc.guessed]
			room = withGuesses(room, ids...)
			room.RoundState.SuddenDeath = tc.active

			d := NewHostDecider()
			dec, ok := d.Decide(room, now)
			if ok != tc.want {
				t.Fatalf("expected decision=%v, got %v (%+v)", tc.want, ok, dec)
			}
			if ok {
				if dec.Transition != TransitionSuddenDeath {
					t.Fatalf("expected sudden death, got %s", dec.Transition)
				}
				if dec.Patch["roundState/suddenDeath"] != true {
					t.Fatalf("unexpected patch %+v", dec.Patch)
				}
			}
		})
	}
}

func TestSuddenDeathPublishedOncePerRound(t *testing.T) {
	d := NewHostDecider()
	room := withGuesses(playingRoom(4), "p0", "p1", "p2")
	if _, ok := d.Decide(room, time.Now()); !ok {
		t.Fatalf("expected sudden death decision")
	}
	// Same snapshot again before the write echoes back.
	if _, ok := d.Decide(room, time.Now()); ok {
		t.Fatalf("sudden death must not be republished for the same round")
	}
}

func TestRevealAppliedExactlyOnce(t *testing.T) {
	d := NewHostDecider()
	room := playingRoom(3)
	room.Players["p1"] = domain.Player{Name: "Player 2", Score: 500, Misses: 1, JoinedAt: 1}
	room.RoundState.Guesses = map[string]domain.GuessRecord{
		"p0": {Selection: "Right", IsCorrect: true, ScoreDelta: 2000},
		"p1": {Selection: "Wrong", ScoreDelta: 0},
		"p2": {Selection: domain.TimeoutSelection, ScoreDelta: 0},
	}

	dec, ok := d.Decide(room, time.Now())
	if !ok || dec.Transition != TransitionReveal {
		t.Fatalf("expected reveal, got %+v ok=%v", dec, ok)
	}
	want := domain.Patch{
		"gameState":        domain.GameStateReveal,
		"players/p0/score": 2000, "players/p0/misses": 0,
		"players/p1/score": 500, "players/p1/misses": 2,
		"players/p2/score": 0, "players/p2/misses": 1,
	}
	if len(dec.Patch) != len(want) {
		t.Fatalf("expected %d patch entries, got %+v", len(want), dec.Patch)
	}
	for k, v := range want {
		if dec.Patch[k] != v {
			t.Fatalf("patch[%s]: expected %v, got %v", k, v, dec.Patch[k])
		}
	}

	// Repeated observation of the same complete ledger, e.g. a late duplicate notification.
	if _, ok := d.Decide(room, time.Now()); ok {
		t.Fatalf("reveal must be applied exactly once per round")
	}
}

func TestRevealClampsNegativeDeltaAndCountsMissingAsMiss(t *testing.T) {
	room := playingRoom(2)
	room.Players["p0"] = domain.Player{Name: "Host", Score: 300, JoinedAt: 0}
	room.RoundState.Guesses = map[string]domain.GuessRecord{
		"p0": {Selection: "Right", IsCorrect: true, ScoreDelta: -50},
		"p1": {Selection: "Wrong"},
	}

	patch := revealPatch(room, syncedLedger(room))
	if patch["players/p0/score"] != 300 || patch["players/p0/misses"] != 0 {
		t.Fatalf("negative delta must be clamped to zero, got %+v", patch)
	}

	room.Players["p3"] = domain.Player{Name: "Silent", Score: 100, JoinedAt: 10}
	patch = revealPatch(room, syncedLedger(room))
	if patch["players/p3/score"] != 100 || patch["players/p3/misses"] != 1 {
		t.Fatalf("player without a record must count as a miss, got %+v", patch)
	}
}

func TestHostVoteAdvancesRound(t *testing.T) {
	now := time.UnixMilli(1_700_000_123_000)
	room := playingRoom(2)
	room.GameState = domain.GameStateReveal
	room.CurrentRoundIndex = 1

	d := NewHostDecider()
	room.RoundState.Votes = map[string]domain.Vote{"p1": {Ready: true}}
	if _, ok := d.Decide(room, now); ok {
		t.Fatalf("a non-host vote must not advance the round")
	}

	room.RoundState.Votes["p0"] = domain.Vote{Ready: true}
	dec, ok := d.Decide(room, now)
	if !ok || dec.Transition != TransitionNextRound {
		t.Fatalf("expected next round, got %+v ok=%v", dec, ok)
	}
	if dec.Patch["currentRoundIndex"] != 2 || dec.Patch["gameState"] != domain.GameStatePreview {
		t.Fatalf("unexpected patch %+v", dec.Patch)
	}
	rs, ok := dec.Patch["roundState"].(domain.RoundState)
	if !ok || rs.StartedAt != now.UnixMilli() || rs.SuddenDeath || len(rs.Guesses) != 0 || len(rs.Votes) != 0 {
		t.Fatalf("expected a fresh round state, got %+v", dec.Patch["roundState"])
	}

	if _, ok := d.Decide(room, now); ok {
		t.Fatalf("advance must happen once per round")
	}
}

func TestLastRoundVoteEndsGame(t *testing.T) {
	room := playingRoom(2)
	room.GameState = domain.GameStateReveal
	room.CurrentRoundIndex = domain.RoundCount - 1
	room.RoundState.Votes = map[string]domain.Vote{"p0": {Ready: true}}

	dec, ok := NewHostDecider().Decide(room, time.Now())
	if !ok || dec.Transition != TransitionGameOver {
		t.Fatalf("expected game over, got %+v ok=%v", dec, ok)
	}
	if len(dec.Patch) != 1 || dec.Patch["status"] != domain.StatusGameOver {
		t.Fatalf("game over patch must only set status, got %+v", dec.Patch)
	}
}

func TestNoDecisionOutsidePlaying(t *testing.T) {
	d := NewHostDecider()
	for _, status := range []domain.Status{domain.StatusWaiting, domain.StatusGameOver} {
		room := withGuesses(playingRoom(2), "p0", "p1")
		room.Status = status
		if dec, ok := d.Decide(room, time.Now()); ok {
			t.Fatalf("status %s: unexpected decision %+v", status, dec)
		}
	}
}

func TestReduceDiscardsStaleSnapshots(t *testing.T) {
	room := playingRoom(2)
	room.CurrentRoundIndex = 2
	view, ok := Reduce(View{}, room)
	if !ok || !view.RoundChanged || !view.StatusChanged || !view.GameStateChanged {
		t.Fatalf("expected first snapshot to be adopted as a change, got %+v ok=%v", view, ok)
	}

	older := room
	older.CurrentRoundIndex = 1
	if got, ok := Reduce(view, older); ok || got.Room.CurrentRoundIndex != 2 {
		t.Fatalf("expected regressed round index to be discarded")
	}

	reveal := room
	reveal.GameState = domain.GameStateReveal
	view, ok = Reduce(view, reveal)
	if !ok || view.RoundChanged || !view.GameStateChanged {
		t.Fatalf("expected reveal in the same round, got %+v", view)
	}
	if _, ok := Reduce(view, room); ok {
		t.Fatalf("expected preview of the same round after reveal to be discarded")
	}

	over := reveal
	over.Status = domain.StatusGameOver
	view, ok = Reduce(view, over)
	if !ok || !view.StatusChanged {
		t.Fatalf("expected game over to be adopted")
	}
	if _, ok := Reduce(view, reveal); ok {
		t.Fatalf("expected regression out of game over to be discarded")
	}
}

func TestReduceKeepsSuddenDeathAndForcesGameOver(t *testing.T) {
	room := playingRoom(4)
	room.RoundState.SuddenDeath = true
	view, _ := Reduce(View{}, room)
	if !view.SuddenDeathStarted {
		t.Fatalf("expected sudden death flagged on first observation")
	}

	lagging := room
	lagging.RoundState.SuddenDeath = false
	view, ok := Reduce(view, lagging)
	if !ok || !view.Room.RoundState.SuddenDeath || view.SuddenDeathStarted {
		t.Fatalf("sudden death must not revert within a round, got %+v", view.Room.RoundState)
	}

	overflow := room
	overflow.CurrentRoundIndex = domain.RoundCount
	view, ok = Reduce(view, overflow)
	if !ok || view.Room.Status != domain.StatusGameOver || view.Playing(domain.GameStatePreview) {
		t.Fatalf("round index past the last round must yield game over, got %+v", view.Room)
	}
}

func syncedLedger(room domain.Room) *ledger.Ledger {
	l := ledger.New()
	l.Reset(room.CurrentRoundIndex)
	l.Sync(room.RoundState.Guesses)
	return l
}

func TestForgetAllowsRetryAfterFailedWrite(t *testing.T) {
	d := NewHostDecider()
	room := withGuesses(playingRoom(2), "p0", "p1")

	dec, ok := d.Decide(room, time.Now())
	if !ok || dec.Transition != TransitionReveal {
		t.Fatalf("expected reveal, got %+v", dec)
	}
	d.Forget(dec)
	if again, ok := d.Decide(room, time.Now()); !ok || again.Transition != TransitionReveal {
		t.Fatalf("expected reveal to be re-issued after forget, got %+v ok=%v", again, ok)
	}
}
