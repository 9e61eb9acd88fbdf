// Package ledger provides the PostgreSQL-backed section timestamp ledger.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/larderapp/larder/internal/dbx"
	"github.com/larderapp/larder/internal/server/models"
)

// PostgresRepository implements the ledger over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Bump upserts the entry. GREATEST keeps the ledger monotonic even if two
// writers race and commit out of order.
func (r *PostgresRepository) Bump(ctx context.Context, userID string, section models.Section, at time.Time) error {
	query := `
		INSERT INTO section_timestamps (user_id, section, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, section)
		DO UPDATE SET updated_at = GREATEST(section_timestamps.updated_at, EXCLUDED.updated_at)
	`
	if _, err := r.db.ExecContext(ctx, query, userID, string(section), at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) All(ctx context.Context, userID string) (map[models.Section]time.Time, error) {
	query := `SELECT section, updated_at FROM section_timestamps WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make(map[models.Section]time.Time)
	for rows.Next() {
		var section string
		var at time.Time
		if err := rows.Scan(&section, &at); err != nil {
			return nil, err
		}
		result[models.Section(section)] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SetAll(ctx context.Context, userID string, at time.Time) error {
	for _, section := range models.AllSections() {
		if err := r.Bump(ctx, userID, section, at); err != nil {
			return err
		}
	}
	return nil
}
