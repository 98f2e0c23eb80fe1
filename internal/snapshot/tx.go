package snapshot

import (
	"context"
	"database/sql"
)

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// scopedTx is committed or rolled back exactly once. Close after Commit is
// a no-op, so `defer stx.Close()` rolls back every path that did not commit.
type scopedTx struct {
	*sql.Tx
	done bool
}

func beginScoped(ctx context.Context, b txBeginner) (*scopedTx, error) {
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &scopedTx{Tx: tx}, nil
}

func (s *scopedTx) Commit() error {
	if s.done {
		return sql.ErrTxDone
	}
	s.done = true
	return s.Tx.Commit()
}

// Close rolls back an uncommitted transaction
func (s *scopedTx) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.Tx.Rollback()
}
