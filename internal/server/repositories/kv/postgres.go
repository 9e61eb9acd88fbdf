// Package kv provides the PostgreSQL-backed repository for opaque KV
// section documents (preferences, logs, onboarding state, etc).
package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/dbx"
	"github.com/larderapp/larder/internal/server/models"
)

// PostgresRepository implements KV storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string, section models.Section) (*models.KVRecord, error) {
	query := `
		SELECT value, updated_at FROM kv_sections
		WHERE user_id = $1 AND section = $2
	`
	rec := &models.KVRecord{UserID: userID, Section: section}
	var value []byte
	err := r.db.QueryRowContext(ctx, query, userID, string(section)).Scan(&value, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Value = value
	return rec, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.KVRecord) error {
	query := `
		INSERT INTO kv_sections (user_id, section, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, section)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, rec.UserID, string(rec.Section), []byte(rec.Value), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string, section models.Section) error {
	query := `DELETE FROM kv_sections WHERE user_id = $1 AND section = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, string(section)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) All(ctx context.Context, userID string) ([]*models.KVRecord, error) {
	query := `
		SELECT section, value, updated_at FROM kv_sections
		WHERE user_id = $1
		ORDER BY section
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.KVRecord
	for rows.Next() {
		rec := &models.KVRecord{UserID: userID}
		var section string
		var value []byte
		if err := rows.Scan(&section, &value, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Section = models.Section(section)
		rec.Value = value
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
