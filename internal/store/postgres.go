package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/safar/settlement-core/internal/database"
)

// Postgres implements Store on top of a sqlx handle. Units of work run at
// READ COMMITTED and rely on explicit row locks; deadlocks and
// serialization failures are retried by database.WithRetry.
type Postgres struct {
	db   *sqlx.DB
	opts database.TxOptions
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{
		db: db,
		opts: database.TxOptions{
			IsolationLevel: sql.LevelReadCommitted,
			MaxRetries:     3,
		},
	}
}

func (s *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.WithRetry(ctx, s.db, s.opts, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx *sqlx.Tx
}

func rowsAffected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
