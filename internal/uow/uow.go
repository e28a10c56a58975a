package uow

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/eventpass/internal/repository/postgres"
)

// AfterCommit runs once the transaction it was registered in has committed.
type AfterCommit func(ctx context.Context)

// Work is the body of a unit of work. Repositories must be bound to tx with
// their With method; after registers hooks.
type Work func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error

type UoW struct {
	store *postgres.Store
}

func New(store *postgres.Store) *UoW {
	return &UoW{store: store}
}

// Do runs fn in a serializable transaction.
func (u *UoW) Do(ctx context.Context, fn Work) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn in a transaction with opts. Hooks run in registration
// order on a context that outlives the caller's cancellation, and are dropped
// if the transaction fails.
func (u *UoW) DoWithOpts(ctx context.Context, opts *pgx.TxOptions, fn Work) error {
	var hooks []AfterCommit

	err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
		hooks = hooks[:0]
		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		h(hookCtx)
	}

	return nil
}
