package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle passed back into repository methods.
// Repositories accept nil to run against the pool directly.
type Tx any

// TransactionManager runs a callback inside one database transaction,
// committing on nil and rolling back on error.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
