// Package driver defines the database collaborator: script execution plus
// the persisted migrations ledger. The ledger lives inside the target
// database and is the single source of truth for what has run.
package driver

import (
	"context"
	"errors"

	"github.com/root-talis/kaidan/migration"
)

type Driver interface {
	// EnsureSchema idempotently creates the ledger table if absent.
	EnsureSchema(ctx context.Context) error

	// CurrentVersion returns the highest recorded version, or
	// migration.Unversioned when the ledger is empty.
	CurrentVersion(ctx context.Context) (migration.Version, error)

	// ListRecords returns all ledger rows in ascending version order.
	ListRecords(ctx context.Context) ([]migration.Record, error)

	// RecordApplied inserts a ledger row for mig. Returns
	// ErrDuplicateRecord if the version is already recorded.
	RecordApplied(ctx context.Context, mig migration.Migration) error

	// RecordReverted deletes the ledger row for mig. Returns
	// ErrRecordNotFound if the version is not recorded.
	RecordReverted(ctx context.Context, mig migration.Migration) error

	// ExecScript runs one migration script as a single unit, inside its
	// own transaction where the dialect allows it.
	ExecScript(ctx context.Context, script string) error

	// DropLedger removes the ledger table itself.
	DropLedger(ctx context.Context) error
}

var (
	ErrInvalidLedgerTable = errors.New("an error has occurred when reading the ledger table")
	ErrDuplicateRecord    = errors.New("version is already recorded in the migrations ledger")
	ErrRecordNotFound     = errors.New("version is not recorded in the migrations ledger")
)
