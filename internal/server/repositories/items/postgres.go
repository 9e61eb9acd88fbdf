// Package items provides the PostgreSQL-backed repository for entity items
// shared by all entity sections.
package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/dbx"
	"github.com/larderapp/larder/internal/server/models"
)

// PostgresRepository implements item storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string, section models.Section, itemID string) (*models.Item, error) {
	query := `
		SELECT id, data, extra, updated_at, deleted_at FROM items
		WHERE user_id = $1 AND section = $2 AND item_id = $3
	`
	item := &models.Item{UserID: userID, Section: section, ItemID: itemID}
	var data, extra []byte
	var deletedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, userID, string(section), itemID).
		Scan(&item.RowID, &data, &extra, &item.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := unmarshalFields(data, extra, item); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		item.DeletedAt = &t
	}
	return item, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, item *models.Item) error {
	query := `
		INSERT INTO items (user_id, section, item_id, data, extra, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, section, item_id)
		DO UPDATE SET
			data = EXCLUDED.data,
			extra = EXCLUDED.extra,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
		RETURNING id
	`
	data, extra, err := marshalFields(item)
	if err != nil {
		return err
	}
	var deletedAt any
	if item.DeletedAt != nil {
		deletedAt = *item.DeletedAt
	}
	err = r.db.QueryRowContext(ctx, query,
		item.UserID, string(item.Section), item.ItemID, data, extra, item.UpdatedAt, deletedAt).
		Scan(&item.RowID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string, section models.Section, itemID string) error {
	query := `DELETE FROM items WHERE user_id = $1 AND section = $2 AND item_id = $3`
	if _, err := r.db.ExecContext(ctx, query, userID, string(section), itemID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, userID string, section models.Section, itemID string, at time.Time) error {
	query := `
		UPDATE items SET deleted_at = $4, updated_at = $4
		WHERE user_id = $1 AND section = $2 AND item_id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, userID, string(section), itemID, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, section models.Section, afterUpdatedAt time.Time, afterID int64, limit int) ([]*models.Item, error) {
	query := `
		SELECT id, item_id, data, extra, updated_at FROM items
		WHERE user_id = $1 AND section = $2 AND deleted_at IS NULL
		AND (updated_at, id) > ($3, $4)
		ORDER BY updated_at, id
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, query, userID, string(section), afterUpdatedAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanItems(rows, userID, section)
}

func (r *PostgresRepository) ListAll(ctx context.Context, userID string, section models.Section) ([]*models.Item, error) {
	query := `
		SELECT id, item_id, data, extra, updated_at FROM items
		WHERE user_id = $1 AND section = $2 AND deleted_at IS NULL
		ORDER BY updated_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, userID, string(section))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanItems(rows, userID, section)
}

func (r *PostgresRepository) Count(ctx context.Context, userID string, section models.Section) (int, error) {
	query := `
		SELECT COUNT(*) FROM items
		WHERE user_id = $1 AND section = $2 AND deleted_at IS NULL
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, string(section)).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, userID string, section models.Section) error {
	query := `DELETE FROM items WHERE user_id = $1 AND section = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, string(section)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func scanItems(rows *sql.Rows, userID string, section models.Section) ([]*models.Item, error) {
	defer rows.Close()

	var result []*models.Item
	for rows.Next() {
		item := &models.Item{UserID: userID, Section: section}
		var data, extra []byte
		if err := rows.Scan(&item.RowID, &item.ItemID, &data, &extra, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalFields(data, extra, item); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func marshalFields(item *models.Item) ([]byte, []byte, error) {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal data: %w", err)
	}
	extra, err := json.Marshal(item.Extra)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal extra: %w", err)
	}
	return data, extra, nil
}

func unmarshalFields(data, extra []byte, item *models.Item) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, &item.Data); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &item.Extra); err != nil {
			return fmt.Errorf("unmarshal extra: %w", err)
		}
	}
	return nil
}
