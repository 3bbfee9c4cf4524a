package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrForeignKey   = errors.New("foreign key constraint violated")
)

const (
	mysqlErrDuplicateEntry     = 1062
	mysqlErrNoReferencedRow    = 1452
	mysqlErrNoReferencedRowOld = 1216
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func translateError(err error) error {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}

	switch mysqlErr.Number {
	case mysqlErrDuplicateEntry:
		return errors.Join(ErrDuplicateKey, err)
	case mysqlErrNoReferencedRow, mysqlErrNoReferencedRowOld:
		return errors.Join(ErrForeignKey, err)
	default:
		return err
	}
}
