package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	updatedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "data", "extra", "updated_at", "deleted_at"}).
		AddRow(int64(7), []byte(`{"name":"Milk"}`), []byte(`{"favorite":true}`), updatedAt, nil)

	mock.ExpectQuery(`SELECT id, data, extra, updated_at, deleted_at FROM items`).
		WithArgs("u1", "inventory", "a1").
		WillReturnRows(rows)

	item, err := repo.Get(context.Background(), "u1", models.SectionInventory, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.RowID != 7 {
		t.Fatalf("want row id 7, got %d", item.RowID)
	}
	if string(item.Data["name"]) != `"Milk"` {
		t.Fatalf("unexpected data: %v", item.Data)
	}
	if string(item.Extra["favorite"]) != `true` {
		t.Fatalf("unexpected extra: %v", item.Extra)
	}
	if item.DeletedAt != nil {
		t.Fatalf("unexpected deleted_at: %v", item.DeletedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, data, extra, updated_at, deleted_at FROM items`).
		WithArgs("u1", "inventory", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "u1", models.SectionInventory, "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpsert_AssignsRowID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	updatedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)INSERT INTO items .* ON CONFLICT \(user_id, section, item_id\)`).
		WithArgs("u1", "recipes", "r1", []byte(`{"title":"Soup"}`), []byte(`{}`), updatedAt, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	item := &models.Item{
		UserID:    "u1",
		Section:   models.SectionRecipes,
		ItemID:    "r1",
		Data:      map[string]json.RawMessage{"title": json.RawMessage(`"Soup"`)},
		Extra:     map[string]json.RawMessage{},
		UpdatedAt: updatedAt,
	}
	if err := repo.Upsert(context.Background(), item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.RowID != 42 {
		t.Fatalf("want row id 42, got %d", item.RowID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSoftDelete_StampsBothColumns(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE items SET deleted_at = \$4, updated_at = \$4`).
		WithArgs("u1", "inventory", "a1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SoftDelete(context.Background(), "u1", models.SectionInventory, "a1", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestList_KeysetPredicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	after := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "item_id", "data", "extra", "updated_at"}).
		AddRow(int64(8), "a2", []byte(`{"name":"Eggs"}`), []byte(`{}`), after.Add(time.Second)).
		AddRow(int64(9), "a3", []byte(`{"name":"Flour"}`), []byte(`{}`), after.Add(2*time.Second))

	mock.ExpectQuery(`AND \(updated_at, id\) > \(\$3, \$4\)\s+ORDER BY updated_at, id\s+LIMIT \$5`).
		WithArgs("u1", "inventory", after, int64(7), 3).
		WillReturnRows(rows)

	items, err := repo.List(context.Background(), "u1", models.SectionInventory, after, 7, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	if items[0].ItemID != "a2" || items[1].ItemID != "a3" {
		t.Fatalf("unexpected order: %v, %v", items[0].ItemID, items[1].ItemID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCount_ExcludesSoftDeleted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM items\s+WHERE user_id = \$1 AND section = \$2 AND deleted_at IS NULL`).
		WithArgs("u1", "cookware").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := repo.Count(context.Background(), "u1", models.SectionCookware)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("want 5, got %d", n)
	}
}

func TestDeleteAll_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM items WHERE user_id = \$1 AND section = \$2`).
		WithArgs("u1", "recipes").
		WillReturnError(errors.New("boom"))

	err := repo.DeleteAll(context.Background(), "u1", models.SectionRecipes)
	if err == nil {
		t.Fatal("expected error")
	}
}
