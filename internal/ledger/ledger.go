// Package ledger tracks who has guessed in the current round.
package ledger

import "musiguess/internal/domain"

// Ledger holds at most one guess record per participant for a single round. It is not safe
// for concurrent use; the owning coordinator serializes access.
type Ledger struct {
	round   int
	records map[string]domain.GuessRecord
}

func New() *Ledger {
	return &Ledger{
		round:   -1,
		records: make(map[string]domain.GuessRecord),
	}
}

// Round is the round index the ledger currently tracks, or -1 before the first Reset.
func (l *Ledger) Round() int {
	return l.round
}

// Reset clears all records when round differs from the tracked round. Repeated calls for the
// same round are no-ops, so every round is cleared exactly once.
func (l *Ledger) Reset(round int) bool {
	if round == l.round {
		return false
	}
	l.round = round
	clear(l.records)
	return true
}

// RecordGuess stores rec unless the participant already has a record this round.
func (l *Ledger) RecordGuess(participantID string, rec domain.GuessRecord) bool {
	if participantID == "" {
		return false
	}
	if _, ok := l.records[participantID]; ok {
		return false
	}
	l.records[participantID] = rec
	return true
}

// Sync adopts every record from a full guesses map, keeping any record already held.
// Feeding it the complete current map makes it tolerant of skipped snapshots.
func (l *Ledger) Sync(guesses map[string]domain.GuessRecord) int {
	added := 0
	for id, rec := range guesses {
		if l.RecordGuess(id, rec) {
			added++
		}
	}
	return added
}

func (l *Ledger) Record(participantID string) (domain.GuessRecord, bool) {
	rec, ok := l.records[participantID]
	return rec, ok
}

func (l *Ledger) Has(participantID string) bool {
	_, ok := l.records[participantID]
	return ok
}

func (l *Ledger) Len() int {
	return len(l.records)
}

// IsComplete reports whether every expected participant has a record.
func (l *Ledger) IsComplete(expected []string) bool {
	return l.RemainingCount(expected) == 0
}

// RemainingCount is the number of expected participants without a record. Records from
// participants outside expected are not counted against it.
func (l *Ledger) RemainingCount(expected []string) int {
	remaining := 0
	for _, id := range expected {
		if _, ok := l.records[id]; !ok {
			remaining++
		}
	}
	return remaining
}

// Snapshot returns a copy of the current records.
func (l *Ledger) Snapshot() map[string]domain.GuessRecord {
	out := make(map[string]domain.GuessRecord, len(l.records))
	for id, rec := range l.records {
		out[id] = rec
	}
	return out
}
