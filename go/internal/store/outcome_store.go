package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/models"
	"github.com/mcdev12/handduel/go/internal/sqlutil"
)

// ErrUnknownPlayer is returned when a participant has no users row.
var ErrUnknownPlayer = errors.New("one or both players not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id           BIGSERIAL PRIMARY KEY,
  username     VARCHAR(50) UNIQUE NOT NULL
);
ALTER TABLE users ADD COLUMN IF NOT EXISTS online_games INTEGER NOT NULL DEFAULT 0;
ALTER TABLE users ADD COLUMN IF NOT EXISTS online_wins  INTEGER NOT NULL DEFAULT 0;

CREATE TABLE IF NOT EXISTS multiplayer_games (
  id               BIGSERIAL PRIMARY KEY,
  idempotency_key  TEXT UNIQUE NOT NULL,
  match_id         TEXT NOT NULL,
  player1_id       BIGINT NOT NULL REFERENCES users(id),
  player2_id       BIGINT NOT NULL REFERENCES users(id),
  player1_gesture  VARCHAR(10) NOT NULL,
  player2_gesture  VARCHAR(10) NOT NULL,
  result           VARCHAR(10) NOT NULL,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// OutcomeStore persists outcomes straight to Postgres. It implements the same
// submission interface as the HTTP results client.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

func NewOutcomeStore(ctx context.Context, dsn string) (*OutcomeStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &OutcomeStore{pool: pool}, nil
}

func (s *OutcomeStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Submit records the game and bumps both players' online stats in one
// transaction. A repeated idempotency key returns the original game id and
// leaves the stats untouched.
func (s *OutcomeStore) Submit(ctx context.Context, outcome models.MatchOutcome, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return "", errors.New("idempotency key required")
	}
	p1, p2 := outcome.Player1(), outcome.Player2()

	var gameID int64
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
            INSERT INTO multiplayer_games (
              idempotency_key, match_id, player1_id, player2_id,
              player1_gesture, player2_gesture, result
            ) VALUES ($1,$2,$3,$4,$5,$6,$7)
            ON CONFLICT (idempotency_key) DO NOTHING
            RETURNING id
        `,
			idempotencyKey, outcome.MatchID().String(), int64(p1), int64(p2),
			strings.ToLower(outcome.GestureOf(p1).WireName()),
			strings.ToLower(outcome.GestureOf(p2).WireName()),
			string(outcome.Result()),
		).Scan(&gameID)
		if errors.Is(err, pgx.ErrNoRows) {
			log.Info().Str("idempotency_key", idempotencyKey).Msg("outcome already stored, skipping")
			return tx.QueryRow(ctx,
				`SELECT id FROM multiplayer_games WHERE idempotency_key = $1`, idempotencyKey,
			).Scan(&gameID)
		}
		if err != nil {
			return fmt.Errorf("insert game: %w", err)
		}

		tag, err := tx.Exec(ctx, `
            UPDATE users
               SET online_games = online_games + 1,
                   online_wins  = online_wins + CASE WHEN id = $3 THEN 1 ELSE 0 END
             WHERE id IN ($1, $2)
        `, int64(p1), int64(p2), winnerParam(outcome))
		if err != nil {
			return fmt.Errorf("update player stats: %w", err)
		}
		if tag.RowsAffected() != 2 {
			return ErrUnknownPlayer
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(gameID, 10), nil
}

// winnerParam is the winner's id, or 0 (never a users.id) for a draw.
func winnerParam(o models.MatchOutcome) int64 {
	if w, ok := o.Winner(); ok {
		return int64(w)
	}
	return 0
}

// Stats returns a player's online games and wins.
func (s *OutcomeStore) Stats(ctx context.Context, id models.ParticipantID) (games, wins int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT online_games, online_wins FROM users WHERE id = $1`, int64(id),
	).Scan(&games, &wins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrUnknownPlayer
	}
	return games, wins, err
}

func (s *OutcomeStore) Close() {
	s.pool.Close()
}
