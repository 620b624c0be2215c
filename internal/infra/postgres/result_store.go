package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"musiguess/internal/domain"
)

// ErrResultNotFound is returned when no finished game is stored for a room.
var ErrResultNotFound = errors.New("game result not found")

// ResultStore persists final leaderboards into the game_results table.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// RecordResult stores the leaderboard of a finished room. A room is recorded at most once;
// later writes for the same room are ignored.
func (s *ResultStore) RecordResult(ctx context.Context, result domain.GameResult) error {
	entries, err := json.Marshal(result.Entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO game_results (room_id, artist, mode, difficulty, finished_at, leaderboard)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id) DO NOTHING`,
		result.RoomID, result.Artist, string(result.Mode), string(result.Difficulty), result.FinishedAt, string(entries))
	if err != nil {
		return fmt.Errorf("record result %s: %w", result.RoomID, err)
	}
	return nil
}

func (s *ResultStore) Result(ctx context.Context, roomID string) (domain.GameResult, error) {
	var (
		result     domain.GameResult
		mode       string
		difficulty string
		raw        []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, artist, mode, difficulty, finished_at, leaderboard
		FROM game_results WHERE room_id = $1`, roomID).
		Scan(&result.RoomID, &result.Artist, &mode, &difficulty, &result.FinishedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameResult{}, ErrResultNotFound
	}
	if err != nil {
		return domain.GameResult{}, fmt.Errorf("load result %s: %w", roomID, err)
	}
	result.Mode = domain.Mode(mode)
	result.Difficulty = domain.Difficulty(difficulty)
	if err := json.Unmarshal(raw, &result.Entries); err != nil {
		return domain.GameResult{}, fmt.Errorf("unmarshal leaderboard: %w", err)
	}
	return result, nil
}
