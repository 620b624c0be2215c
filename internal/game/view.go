package game

import "musiguess/internal/domain"

// View is one participant's derivation of the shared room document, plus what changed
// relative to the previous view.
type View struct {
	Room     domain.Room
	Observed bool

	RoundChanged       bool
	StatusChanged      bool
	GameStateChanged   bool
	SuddenDeathStarted bool
}

// Playing reports whether the view is in the given fine-grained state of an active game.
func (v View) Playing(state domain.GameState) bool {
	return v.Room.Status == domain.StatusPlaying && v.Room.GameState == state
}

func statusRank(s domain.Status) int {
	switch s {
	case domain.StatusPlaying:
		return 1
	case domain.StatusGameOver:
		return 2
	default:
		return 0
	}
}

// Reduce folds a new snapshot into the prior view. It returns false when the snapshot is
// stale or malformed and must be discarded: a regressing round index, a regressing status,
// or a round that went back from reveal to preview. Monotonic fields are clamped instead of
// rejected where a reasonable value exists.
func Reduce(prior View, snap domain.Room) (View, bool) {
	if snap.CurrentRoundIndex < 0 {
		return prior, false
	}
	if snap.CurrentRoundIndex >= domain.RoundCount {
		snap.Status = domain.StatusGameOver
		snap.CurrentRoundIndex = domain.RoundCount - 1
	}

	if prior.Observed {
		old := prior.Room
		if snap.CurrentRoundIndex < old.CurrentRoundIndex {
			return prior, false
		}
		if statusRank(snap.Status) < statusRank(old.Status) {
			return prior, false
		}
		sameRound := snap.Status == domain.StatusPlaying && old.Status == domain.StatusPlaying &&
			snap.CurrentRoundIndex == old.CurrentRoundIndex
		if sameRound && old.GameState == domain.GameStateReveal && snap.GameState == domain.GameStatePreview {
			return prior, false
		}
		if sameRound && old.RoundState.SuddenDeath && !snap.RoundState.SuddenDeath {
			snap.RoundState.SuddenDeath = true
		}
	}

	next := View{Room: snap, Observed: true}
	old := prior.Room
	playing := snap.Status == domain.StatusPlaying

	next.StatusChanged = !prior.Observed || old.Status != snap.Status
	next.RoundChanged = playing && (!prior.Observed || old.Status != domain.StatusPlaying ||
		old.CurrentRoundIndex != snap.CurrentRoundIndex)
	next.GameStateChanged = playing && (next.RoundChanged || old.GameState != snap.GameState)

	if playing && snap.GameState == domain.GameStatePreview && snap.RoundState.SuddenDeath {
		next.SuddenDeathStarted = next.RoundChanged || !old.RoundState.SuddenDeath
	}
	return next, true
}
