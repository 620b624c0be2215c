// Package game holds the room state machine: waiting -> preview <-> reveal -> gameOver.
//
// Only the host computes transitions. Every participant, the host included, applies the
// published result passively through Reduce. There is no consensus underneath: the host is a
// single writer by convention, so a second process acting as the same host with stale local
// state could apply a round's scores twice. HostDecider keeps the exactly-once guards as
// explicit state so it can be swapped for a compare-and-set or leader-elected decider
// without touching scoring or the ledger.
package game

import (
	"time"

	"musiguess/internal/domain"
	"musiguess/internal/ledger"
)

// Sudden death starts once at most this many players are still guessing.
const suddenDeathThreshold = 2

type Transition int

const (
	TransitionNone Transition = iota
	TransitionSuddenDeath
	TransitionReveal
	TransitionNextRound
	TransitionGameOver
)

func (t Transition) String() string {
	switch t {
	case TransitionSuddenDeath:
		return "sudden_death"
	case TransitionReveal:
		return "reveal"
	case TransitionNextRound:
		return "next_round"
	case TransitionGameOver:
		return "game_over"
	default:
		return "none"
	}
}

// Decision is a patch the host should publish, tagged with the round it was derived from.
type Decision struct {
	Transition Transition
	Round      int
	Patch      domain.Patch
}

// HostDecider decides transitions for one room from the host's side.
type HostDecider struct {
	revealed    int
	advanced    int
	suddenDeath int
}

func NewHostDecider() *HostDecider {
	return &HostDecider{revealed: -1, advanced: -1, suddenDeath: -1}
}

// Decide evaluates the transition rules against a room snapshot. It returns false when
// nothing needs publishing. Each transition fires at most once per round index, even when
// the same snapshot is observed repeatedly.
func (d *HostDecider) Decide(room domain.Room, now time.Time) (Decision, bool) {
	if room.Status != domain.StatusPlaying {
		return Decision{}, false
	}
	round := room.CurrentRoundIndex

	switch room.GameState {
	case domain.GameStatePreview:
		guesses := ledger.New()
		guesses.Reset(round)
		guesses.Sync(room.RoundState.Guesses)
		players := room.PlayerIDs()

		if len(players) > 0 && guesses.IsComplete(players) {
			if d.revealed == round {
				return Decision{}, false
			}
			d.revealed = round
			return Decision{Transition: TransitionReveal, Round: round, Patch: revealPatch(room, guesses)}, true
		}

		remaining := guesses.RemainingCount(players)
		if room.RoundState.SuddenDeath || d.suddenDeath == round {
			return Decision{}, false
		}
		// Nobody has answered yet: small rooms would otherwise start every round in sudden death.
		if guesses.Len() == 0 {
			return Decision{}, false
		}
		if remaining > 0 && remaining <= suddenDeathThreshold {
			d.suddenDeath = round
			return Decision{
				Transition: TransitionSuddenDeath,
				Round:      round,
				Patch:      domain.Patch{"roundState/suddenDeath": true},
			}, true
		}

	case domain.GameStateReveal:
		vote, ok := room.RoundState.Votes[room.HostID]
		if !ok || !vote.Ready || d.advanced == round {
			return Decision{}, false
		}
		d.advanced = round
		next := round + 1
		if next >= domain.RoundCount {
			return Decision{
				Transition: TransitionGameOver,
				Round:      round,
				Patch:      domain.Patch{"status": domain.StatusGameOver},
			}, true
		}
		return Decision{
			Transition: TransitionNextRound,
			Round:      round,
			Patch: domain.Patch{
				"currentRoundIndex": next,
				"gameState":         domain.GameStatePreview,
				"roundState":        domain.RoundState{StartedAt: now.UnixMilli()},
			},
		}, true
	}
	return Decision{}, false
}

// Forget clears the guard a decision set, so the next snapshot re-evaluates it. Used when
// publishing the decision failed.
func (d *HostDecider) Forget(dec Decision) {
	switch dec.Transition {
	case TransitionReveal:
		if d.revealed == dec.Round {
			d.revealed = -1
		}
	case TransitionNextRound, TransitionGameOver:
		if d.advanced == dec.Round {
			d.advanced = -1
		}
	case TransitionSuddenDeath:
		if d.suddenDeath == dec.Round {
			d.suddenDeath = -1
		}
	}
}

// revealPatch adds each player's round delta and flips the room to reveal in one patch.
// Players without a record count as a miss with no points.
func revealPatch(room domain.Room, guesses *ledger.Ledger) domain.Patch {
	p := domain.Patch{"gameState": domain.GameStateReveal}
	for id, player := range room.Players {
		delta, miss := 0, 1
		if rec, ok := guesses.Record(id); ok {
			delta = max(rec.ScoreDelta, 0)
			if rec.IsCorrect {
				miss = 0
			}
		}
		p[domain.PlayerPath(id)+"/score"] = player.Score + delta
		p[domain.PlayerPath(id)+"/misses"] = player.Misses + miss
	}
	return p
}
