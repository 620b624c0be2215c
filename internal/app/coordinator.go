package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"musiguess/internal/domain"
	"musiguess/internal/game"
	"musiguess/internal/ledger"
	"musiguess/internal/monitoring"
	"musiguess/internal/roundclock"
	"musiguess/internal/scoring"
)

// ErrSubscriptionClosed is returned by Run when the store ends the room subscription.
var ErrSubscriptionClosed = errors.New("room subscription closed")

// Decider computes host transitions. game.HostDecider is the default.
type Decider interface {
	Decide(room domain.Room, now time.Time) (game.Decision, bool)
	Forget(dec game.Decision)
}

type CoordinatorConfig struct {
	RoundSeconds       int
	SuddenDeathSeconds int
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{RoundSeconds: 30, SuddenDeathSeconds: 10}
}

type CoordinatorDeps struct {
	Rooms   DocumentStore
	Results ResultRecorder
	Events  EventPublisher
	Metrics *monitoring.Metrics
	Clock   clockwork.Clock
	Decider Decider
	Config  CoordinatorConfig
}

// GuessOutcome is the local result of a guess submission. Duplicate is set when the
// participant had already guessed this round and nothing was written.
type GuessOutcome struct {
	Record    domain.GuessRecord
	Streak    int
	Duplicate bool
}

// Coordinator glues one participant's client to a room: it folds snapshots into a local
// view, drives the round clock, writes the participant's guesses and votes, and, when the
// participant is the host, publishes transitions. All entry points are serialized.
type Coordinator struct {
	roomID        string
	participantID string

	rooms   DocumentStore
	results ResultRecorder
	events  EventPublisher
	metrics *monitoring.Metrics
	clock   clockwork.Clock
	decider Decider
	cfg     CoordinatorConfig
	timer   *roundclock.RoundClock
	logger  zerolog.Logger

	mu             sync.Mutex
	view           game.View
	ledger         *ledger.Ledger
	streak         int
	timeoutPending bool
	recorded       bool
	closed         bool
	updates        chan LocalView
}

func NewCoordinator(roomID, participantID string, deps CoordinatorDeps) *Coordinator {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	decider := deps.Decider
	if decider == nil {
		decider = game.NewHostDecider()
	}
	cfg := deps.Config
	if cfg.RoundSeconds <= 0 {
		cfg.RoundSeconds = DefaultCoordinatorConfig().RoundSeconds
	}
	if cfg.SuddenDeathSeconds <= 0 {
		cfg.SuddenDeathSeconds = DefaultCoordinatorConfig().SuddenDeathSeconds
	}
	return &Coordinator{
		roomID:        roomID,
		participantID: participantID,
		rooms:         deps.Rooms,
		results:       deps.Results,
		events:        deps.Events,
		metrics:       deps.Metrics,
		clock:         clock,
		decider:       decider,
		cfg:           cfg,
		timer:         roundclock.New(clock),
		ledger:        ledger.New(),
		updates:       make(chan LocalView, 1),
		logger:        log.With().Str("room_id", roomID).Str("participant_id", participantID).Logger(),
	}
}

// Updates delivers the latest local view; older undelivered views are dropped. The channel
// is closed when Run returns.
func (c *Coordinator) Updates() <-chan LocalView {
	return c.updates
}

// Run subscribes to the room and processes snapshots and clock events until ctx is done or
// the subscription ends.
func (c *Coordinator) Run(ctx context.Context) error {
	snapshots, cancel, err := c.rooms.Subscribe(ctx, c.roomID)
	if err != nil {
		return fmt.Errorf("subscribe room %s: %w", c.roomID, err)
	}
	c.metrics.SessionOpened()
	defer func() {
		cancel()
		c.timer.Cancel()
		c.metrics.SessionClosed()
		c.mu.Lock()
		c.closed = true
		close(c.updates)
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case room, ok := <-snapshots:
			if !ok {
				return ErrSubscriptionClosed
			}
			if err := c.HandleSnapshot(ctx, room); err != nil {
				c.logger.Error().Err(err).Msg("apply snapshot")
			}
		case ev := <-c.timer.Events():
			if err := c.HandleClockEvent(ctx, ev); err != nil {
				c.logger.Error().Err(err).Msg("handle clock event")
			}
		}
	}
}

// HandleSnapshot folds a room snapshot into the local view. Stale snapshots are dropped.
// Errors come from host writes or a retried timeout; local state stays consistent either way.
func (c *Coordinator) HandleSnapshot(ctx context.Context, room domain.Room) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	view, ok := game.Reduce(c.view, room)
	if !ok {
		c.metrics.StaleSnapshot()
		c.logger.Debug().Int("round", room.CurrentRoundIndex).Str("status", string(room.Status)).Msg("discarded stale snapshot")
		return nil
	}
	c.view = view
	current := view.Room

	var errs []error
	switch current.Status {
	case domain.StatusPlaying:
		if view.RoundChanged {
			c.ledger.Reset(current.CurrentRoundIndex)
			c.timeoutPending = false
		}
		c.ledger.Sync(current.RoundState.Guesses)

		switch current.GameState {
		case domain.GameStatePreview:
			if view.RoundChanged {
				seconds := c.cfg.RoundSeconds
				if current.RoundState.SuddenDeath {
					seconds = c.cfg.SuddenDeathSeconds
				}
				c.timer.Start(seconds)
			} else if view.SuddenDeathStarted {
				c.timer.Shorten(c.cfg.SuddenDeathSeconds)
			}
			if c.timeoutPending && !c.ledger.Has(c.participantID) {
				if _, err := c.submitLocked(ctx, domain.TimeoutSelection); err != nil {
					errs = append(errs, err)
				}
			}
		case domain.GameStateReveal:
			if view.GameStateChanged {
				c.timer.Cancel()
				c.timeoutPending = false
			}
		}

	case domain.StatusGameOver:
		c.timer.Cancel()
		c.timeoutPending = false
		if current.IsHost(c.participantID) {
			c.finishLocked(ctx, current)
		}
	}

	if current.IsHost(c.participantID) {
		if err := c.decideLocked(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.publishLocked()
	return errors.Join(errs...)
}

// HandleClockEvent updates the countdown and submits a timeout guess on expiry. Events
// from a restarted or cancelled countdown are ignored.
func (c *Coordinator) HandleClockEvent(ctx context.Context, ev roundclock.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Round != c.timer.Round() {
		return nil
	}
	switch ev.Kind {
	case roundclock.EventTick:
		c.publishLocked()
	case roundclock.EventExpired:
		if !c.view.Playing(domain.GameStatePreview) || c.ledger.Has(c.participantID) {
			return nil
		}
		if _, ok := c.view.Room.Players[c.participantID]; !ok {
			return nil
		}
		if _, err := c.submitLocked(ctx, domain.TimeoutSelection); err != nil {
			c.timeoutPending = true
			return err
		}
	}
	return nil
}

// SubmitGuess scores and writes the participant's guess for the current round. A second
// submission in the same round is a no-op and returns the first record.
func (c *Coordinator) SubmitGuess(ctx context.Context, selection string) (GuessOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.view.Playing(domain.GameStatePreview) {
		return GuessOutcome{}, domain.ErrNotAcceptingGuesses
	}
	if _, ok := c.view.Room.Players[c.participantID]; !ok {
		return GuessOutcome{}, domain.ErrParticipantNotFound
	}
	if rec, ok := c.ledger.Record(c.participantID); ok {
		return GuessOutcome{Record: rec, Streak: c.streak, Duplicate: true}, nil
	}
	song, ok := c.view.Room.CurrentSong()
	if !ok {
		return GuessOutcome{}, domain.ErrNotAcceptingGuesses
	}
	if selection != domain.TimeoutSelection && !song.HasOption(selection) {
		return GuessOutcome{}, domain.ErrOptionNotFound
	}
	return c.submitLocked(ctx, selection)
}

// Vote marks the participant ready for the next round. Only the host's vote advances.
func (c *Coordinator) Vote(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.view.Playing(domain.GameStateReveal) {
		return domain.ErrNotInReveal
	}
	if _, ok := c.view.Room.Players[c.participantID]; !ok {
		return domain.ErrParticipantNotFound
	}
	if vote, ok := c.view.Room.RoundState.Votes[c.participantID]; ok && vote.Ready {
		return nil
	}
	if err := c.rooms.Patch(ctx, c.roomID, domain.Patch{
		domain.VotePath(c.participantID): domain.Vote{Ready: true},
	}); err != nil {
		c.metrics.StoreError("vote")
		return fmt.Errorf("write vote: %w", err)
	}
	return nil
}

// View returns the current local view.
func (c *Coordinator) View() LocalView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localViewLocked()
}

// submitLocked writes the guess first and only then updates the ledger and streak, so a
// failed write leaves local state unchanged.
func (c *Coordinator) submitLocked(ctx context.Context, selection string) (GuessOutcome, error) {
	room := c.view.Room
	song, _ := room.CurrentSong()
	correct := selection != domain.TimeoutSelection && selection == song.TrackName

	result := scoring.ScoreWrongOrTimeout()
	outcome := "wrong"
	switch {
	case correct:
		result = scoring.ScoreCorrect(c.timer.Elapsed().Seconds(), c.streak, room.Difficulty)
		outcome = "correct"
	case selection == domain.TimeoutSelection:
		outcome = "timeout"
	}
	rec := domain.NewGuessRecord(selection, correct, result)

	if err := c.rooms.Patch(ctx, c.roomID, domain.Patch{domain.GuessPath(c.participantID): rec}); err != nil {
		c.metrics.StoreError("guess")
		return GuessOutcome{}, fmt.Errorf("write guess: %w", err)
	}

	c.ledger.RecordGuess(c.participantID, rec)
	c.timeoutPending = false
	if correct {
		c.streak++
	} else {
		c.streak = 0
	}
	c.metrics.GuessRecorded(outcome, string(result.SpeedTier))
	c.logger.Debug().
		Int("round", room.CurrentRoundIndex).
		Str("outcome", outcome).
		Int("score_delta", rec.ScoreDelta).
		Msg("guess recorded")

	c.publishLocked()
	return GuessOutcome{Record: rec, Streak: c.streak}, nil
}

func (c *Coordinator) decideLocked(ctx context.Context) error {
	dec, ok := c.decider.Decide(c.view.Room, c.clock.Now())
	if !ok {
		return nil
	}
	if err := c.rooms.Patch(ctx, c.roomID, dec.Patch); err != nil {
		c.decider.Forget(dec)
		c.metrics.StoreError("transition")
		return fmt.Errorf("publish %s for round %d: %w", dec.Transition, dec.Round, err)
	}
	c.metrics.Transition(dec.Transition.String())
	c.logger.Info().Int("round", dec.Round).Str("transition", dec.Transition.String()).Msg("room transition published")

	if dec.Transition == game.TransitionReveal {
		c.publishEvent(ctx, domain.GameEvent{Type: domain.EventRoundRevealed, RoomID: c.roomID, Round: dec.Round, At: c.clock.Now()})
	}
	return nil
}

// finishLocked records the final leaderboard once per coordinator.
func (c *Coordinator) finishLocked(ctx context.Context, room domain.Room) {
	if c.recorded {
		return
	}
	c.recorded = true

	now := c.clock.Now()
	entries := room.Leaderboard()
	if c.results != nil {
		err := c.results.RecordResult(ctx, domain.GameResult{
			RoomID:     c.roomID,
			Artist:     room.Artist,
			Mode:       room.Mode,
			Difficulty: room.Difficulty,
			FinishedAt: now.UTC(),
			Entries:    entries,
		})
		if err != nil {
			c.metrics.StoreError("record_result")
			c.logger.Error().Err(err).Msg("record game result")
		}
	}
	c.publishEvent(ctx, domain.GameEvent{
		Type:        domain.EventGameOver,
		RoomID:      c.roomID,
		Round:       room.CurrentRoundIndex,
		At:          now,
		Leaderboard: entries,
	})
}

func (c *Coordinator) publishEvent(ctx context.Context, event domain.GameEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, event); err != nil {
		c.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("publish event failed")
	}
}

func (c *Coordinator) localViewLocked() LocalView {
	room := c.view.Room
	v := LocalView{
		RoomID:        c.roomID,
		ParticipantID: c.participantID,
		IsHost:        room.IsHost(c.participantID),
		Artist:        room.Artist,
		Mode:          room.Mode,
		Difficulty:    room.Difficulty,
		Status:        room.Status,
		Round:         room.CurrentRoundIndex,
		RoundCount:    domain.RoundCount,
		Streak:        c.streak,
		Leaderboard:   room.Leaderboard(),
	}
	if room.Status != domain.StatusPlaying {
		return v
	}
	v.GameState = room.GameState
	v.SuddenDeath = room.RoundState.SuddenDeath
	v.Answered = len(room.RoundState.Guesses)
	if c.timer.State() == roundclock.StateRunning {
		v.Remaining = c.timer.Remaining()
	}
	if song, ok := room.CurrentSong(); ok {
		v.Song = newSongView(song, room.GameState == domain.GameStateReveal)
	}
	if rec, ok := c.ledger.Record(c.participantID); ok {
		v.Guess = &rec
	}
	return v
}

// publishLocked replaces any undelivered view with the current one.
func (c *Coordinator) publishLocked() {
	if c.closed {
		return
	}
	v := c.localViewLocked()
	select {
	case c.updates <- v:
	default:
		select {
		case <-c.updates:
		default:
		}
		c.updates <- v
	}
}
