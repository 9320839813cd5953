// Package stats records finished-game standings and answers per-username
// statistics queries.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
)

// PlayerStats is the aggregate for one username across finished games.
type PlayerStats struct {
	Username         string  `json:"username"`
	GamesPlayed      int     `json:"gamesPlayed"`
	GamesWon         int     `json:"gamesWon"`
	AverageScore     float64 `json:"averageScore"`
	HighestScore     int     `json:"highestScore"`
	TotalMoneyEarned int     `json:"totalMoneyEarned"`
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// RecordResults stores the standings of a finished game. Recording the same
// game twice is a no-op.
func (s *Store) RecordResults(ctx context.Context, gameID string, finishedAt time.Time, results []game.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range results {
		earned := 0
		for _, v := range r.MoneyValues {
			earned += v
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO game_results
                (game_id, player_id, username, final_score, rank, money_earned, finished_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)`,
			gameID, r.PlayerID, r.Username, r.FinalScore, r.Rank, earned, finishedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert result %s/%s: %w", gameID, r.PlayerID, err)
		}
	}
	return tx.Commit()
}

// Player returns the statistics for username (case-insensitive). A username
// with no finished games yields zero counts, not an error.
func (s *Store) Player(ctx context.Context, username string) (PlayerStats, error) {
	out := PlayerStats{Username: strings.TrimSpace(username)}
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(1),
               COALESCE(SUM(CASE WHEN rank = 1 THEN 1 ELSE 0 END), 0),
               COALESCE(AVG(final_score), 0),
               COALESCE(MAX(final_score), 0),
               COALESCE(SUM(money_earned), 0)
        FROM game_results
        WHERE username = ?`, out.Username,
	).Scan(&out.GamesPlayed, &out.GamesWon, &out.AverageScore, &out.HighestScore, &out.TotalMoneyEarned)
	return out, err
}
