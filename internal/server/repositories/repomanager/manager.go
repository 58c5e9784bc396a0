package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/counselkeeper/internal/dbx"
	auditlog "github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/assignments"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Records(db dbx.DBTX) records.Repository
	Assignments(db dbx.DBTX) assignments.Repository
	// Audit needs the pool itself: every append runs in its own
	// transaction.
	Audit(db *sql.DB, chain *auditlog.Chain) audit.Repository
}
