// Package sqlite provides a SQLite implementation of the mfgauth.Store interface.
package sqlite

import (
	"database/sql"

	"github.com/mfgops/mfgauth"
	"github.com/mfgops/mfgauth/stores/sqlstore"
)

// New creates a new SQLite store using the same DB for accounts and audit events.
func New(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, db)
}

// NewWithAudit creates a new SQLite store with a separate audit connection.
func NewWithAudit(db, audit *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, audit)
}

// WithDatabase is a convenience option wiring the store into mfgauth.New.
func WithDatabase(db *sql.DB) mfgauth.Option {
	return mfgauth.WithStore(New(db))
}
