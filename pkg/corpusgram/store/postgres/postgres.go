// Package postgres opens the corpus store on a PostgreSQL database through
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store/sqlstore"
)

// PostgreSQL accepts at most 65535 bind parameters per statement.
const maxParams = 65000

// Dialect is the PostgreSQL flavour of the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: sq.Dollar,
	PrimaryKey:  "BIGSERIAL PRIMARY KEY",
	MaxParams:   maxParams,
	RowLock:     "FOR UPDATE",
	Classify:    Classify,
}

// Open connects to dsn and prepares the schema.
func Open(ctx context.Context, dsn string, opts sqlstore.Options) (store.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s, err := sqlstore.New(ctx, db, Dialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Classify maps SQLSTATE codes onto store conflicts.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return store.NewConflict(store.ConflictUnique, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
			return store.NewConflict(store.ConflictTransient, err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return store.NewConflict(store.ConflictTransient, err)
		}
		return err
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return store.NewConflict(store.ConflictTransient, err)
	}

	// Fallback for wrapped errors that lost their type.
	if strings.Contains(strings.ToLower(err.Error()), "sqlstate 23505") {
		return store.NewConflict(store.ConflictUnique, err)
	}
	return err
}
