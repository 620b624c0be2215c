package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no document exists for a room code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned when a freshly generated room code is already taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomFull is returned when a room already holds MaxPlayers participants.
	ErrRoomFull = errors.New("room is full")
	// ErrParticipantNotFound is returned when a participant acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrInvalidParticipant rejects participant ids that are empty, too long or contain a path separator.
	ErrInvalidParticipant = errors.New("invalid participant id")
	// ErrNotHost is returned when a host-only action is attempted by someone else.
	ErrNotHost = errors.New("only the host can do that")
	// ErrGameInProgress is returned when joining or starting a room that already left the lobby.
	ErrGameInProgress = errors.New("game already started")
	// ErrNotEnoughPlayers blocks a multiplayer start with a single participant.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrInsufficientCatalog means the artist has fewer than RoundCount usable tracks.
	ErrInsufficientCatalog = errors.New("insufficient catalog for artist")
	// ErrNotAcceptingGuesses is returned outside of a preview phase.
	ErrNotAcceptingGuesses = errors.New("round is not accepting guesses")
	// ErrOptionNotFound indicates a selection that is not one of the round's options.
	ErrOptionNotFound = errors.New("option not found")
	// ErrNotInReveal is returned when voting outside of the reveal phase.
	ErrNotInReveal = errors.New("round is not in reveal")
	// ErrInvalidRoomSettings rejects a room without an artist or with an unknown mode or difficulty.
	ErrInvalidRoomSettings = errors.New("invalid room settings")
	// ErrInvalidPatch indicates a malformed field path in a document patch.
	ErrInvalidPatch = errors.New("invalid patch path")
)
