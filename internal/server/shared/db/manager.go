// Package db wires the PostgreSQL connection, migrations, and repositories
// together behind a RepositoryManager.
package db

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/dropwire/internal/server/sessions"
)

type RepositoryManager interface {
	RunMigrations(context.Context) error
	Conn() *sql.DB
	Sessions() sessions.Repository
	Close() error
}
