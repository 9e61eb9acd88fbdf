package repomanager

import (
	"context"

	"github.com/larderapp/larder/internal/server/repositories/items"
	"github.com/larderapp/larder/internal/server/repositories/kv"
	"github.com/larderapp/larder/internal/server/repositories/ledger"
)

// Manager bundles the repositories the sync engine works with and lets a
// caller run several of them inside one transaction.
type Manager interface {
	RunMigrations(ctx context.Context) error
	Items() items.Repository
	KV() kv.Repository
	Ledger() ledger.Repository

	// InTx runs fn with a Manager whose repositories share one
	// transaction. The transaction commits when fn returns nil and rolls
	// back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, m Manager) error) error
}
