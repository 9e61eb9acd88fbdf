// Package repomanager wires the PostgreSQL repositories together and owns
// the connection pool and schema migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/larderapp/larder/internal/dbx"
	"github.com/larderapp/larder/internal/server/migrations"
	"github.com/larderapp/larder/internal/server/repositories/items"
	"github.com/larderapp/larder/internal/server/repositories/kv"
	"github.com/larderapp/larder/internal/server/repositories/ledger"
)

type PostgresManager struct {
	db     *sql.DB
	items  items.Repository
	kv     kv.Repository
	ledger ledger.Repository
}

// NewPostgresManager opens the pool, binds repositories, and runs pending
// migrations.
func NewPostgresManager(dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := newManager(db)
	if err := m.RunMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return m, nil
}

func newManager(db *sql.DB) *PostgresManager {
	return &PostgresManager{
		db:     db,
		items:  items.NewPostgresRepository(db),
		kv:     kv.NewPostgresRepository(db),
		ledger: ledger.NewPostgresRepository(db),
	}
}

func (m *PostgresManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresManager) Items() items.Repository {
	return m.items
}

func (m *PostgresManager) KV() kv.Repository {
	return m.kv
}

func (m *PostgresManager) Ledger() ledger.Repository {
	return m.ledger
}

func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

func (m *PostgresManager) InTx(ctx context.Context, fn func(ctx context.Context, tm Manager) error) error {
	if m.db == nil {
		return fmt.Errorf("manager is already transactional")
	}
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		tm := &PostgresManager{
			items:  items.NewPostgresRepository(tx),
			kv:     kv.NewPostgresRepository(tx),
			ledger: ledger.NewPostgresRepository(tx),
		}
		return fn(ctx, tm)
	})
}
