package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type txContextKey struct{}

// ContextWithTx stashes an open transaction on the context so repositories
// participate in it instead of issuing standalone writes.
func ContextWithTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction previously stored with ContextWithTx.
func TxFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// UnitOfWork runs functions inside a single Firestore transaction whose handle
// travels on the context.
type UnitOfWork struct {
	provider *Provider
}

// NewUnitOfWork constructs a UnitOfWork backed by the provider.
func NewUnitOfWork(provider *Provider) *UnitOfWork {
	return &UnitOfWork{provider: provider}
}

// RunInTx executes fn inside one transaction. All repository operations made
// through the context see and join the same transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return fn(ctx)
	}
	return u.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(ContextWithTx(txCtx, tx))
	})
}
