// Package sqlite opens the corpus store on an SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store/sqlstore"
)

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766).
const maxParams = 32000

// Dialect is the SQLite flavour of the shared SQL store. It has no row
// locks: immediate transactions take the write lock when they begin.
var Dialect = sqlstore.Dialect{
	Name:        "sqlite",
	Placeholder: sq.Question,
	PrimaryKey:  "INTEGER PRIMARY KEY AUTOINCREMENT",
	MaxParams:   maxParams,
	Classify:    Classify,
}

// Open opens (or creates) the database at path with WAL journaling, a busy
// timeout and immediate transactions, so concurrent writers queue on the
// database lock instead of failing mid-transaction.
func Open(ctx context.Context, path string, opts sqlstore.Options) (store.Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}

	s, err := sqlstore.New(ctx, db, Dialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DSN builds the connection string for path. A path that already carries
// query parameters is used as is.
func DSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Classify maps SQLite result codes onto store conflicts.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return store.NewConflict(store.ConflictUnique, err)
		}
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return store.NewConflict(store.ConflictTransient, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(se.Error(), "UNIQUE constraint failed") {
				return store.NewConflict(store.ConflictUnique, err)
			}
		}
		return err
	}

	// Some paths lose the typed error.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return store.NewConflict(store.ConflictUnique, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return store.NewConflict(store.ConflictTransient, err)
	}
	return err
}
