package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diem-vasp/wallet-backend/internal/models"
)

type CursorRepository struct {
	pool *pgxpool.Pool
}

func NewCursorRepository(pool *pgxpool.Pool) *CursorRepository {
	return &CursorRepository{pool: pool}
}

// Get returns the cursor for a stream, starting from zero when the stream has
// never been read.
func (r *CursorRepository) Get(ctx context.Context, streamKey string) (*models.EventCursor, error) {
	var c models.EventCursor
	err := r.pool.QueryRow(ctx,
		`SELECT stream_key, last_sequence, last_version, updated_at
		 FROM event_cursors WHERE stream_key = $1`,
		streamKey).Scan(&c.StreamKey, &c.LastSequence, &c.LastVersion, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.EventCursor{StreamKey: streamKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", streamKey, err)
	}
	return &c, nil
}

func (r *CursorRepository) Save(ctx context.Context, c *models.EventCursor) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO event_cursors (stream_key, last_sequence, last_version, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (stream_key) DO UPDATE SET
			last_sequence = EXCLUDED.last_sequence,
			last_version = EXCLUDED.last_version,
			updated_at = EXCLUDED.updated_at`,
		c.StreamKey, c.LastSequence, c.LastVersion, time.Now())
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", c.StreamKey, err)
	}
	return nil
}
