// Package sqlite implements the migrations driver for SQLite databases
// using the pure-Go modernc.org/sqlite driver. Register it by importing
// this package's dependency; open connections with sql.Open("sqlite", dsn).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // database/sql driver registration

	"github.com/root-talis/kaidan/driver"
	"github.com/root-talis/kaidan/migration"
)

type DriverConfig struct {
	LedgerTableName string
}

type sqliteDriver struct {
	conn   *sql.DB
	config DriverConfig
}

func NewDriver(conn *sql.DB, config DriverConfig) driver.Driver {
	return &sqliteDriver{
		conn:   conn,
		config: config,
	}
}

func (drv *sqliteDriver) EnsureSchema(ctx context.Context) error {
	tableName := drv.makeEscapedLedgerTableName()

	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"version        INTEGER NOT NULL PRIMARY KEY, "+
			"migration_name TEXT NULL, "+
			"applied_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP"+
			")",
		tableName,
	))

	if err != nil {
		return fmt.Errorf("failed to create the migrations ledger table %s: %w", tableName, err)
	}

	return nil
}

func (drv *sqliteDriver) CurrentVersion(ctx context.Context) (migration.Version, error) {
	var version uint64

	row := drv.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COALESCE(MAX(version), 0) FROM %s",
		drv.makeEscapedLedgerTableName(),
	))

	if err := row.Scan(&version); err != nil {
		return migration.Unversioned, fmt.Errorf("failed to read the current version: %w", err)
	}

	return migration.Version(version), nil
}

func (drv *sqliteDriver) ListRecords(ctx context.Context) ([]migration.Record, error) {
	rows, err := drv.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT version, migration_name, applied_at FROM %s ORDER BY version",
		drv.makeEscapedLedgerTableName(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied versions: %w", err)
	}
	defer rows.Close()

	result := make([]migration.Record, 0)
	for rows.Next() {
		var record migration.Record
		var name sql.NullString
		var appliedAt string

		if err = rows.Scan(&record.Version, &name, &appliedAt); err != nil {
			return nil, fmt.Errorf("%w: %s", driver.ErrInvalidLedgerTable, err)
		}

		record.Name = name.String

		record.AppliedAt, err = time.Parse("2006-01-02 15:04:05", appliedAt)
		if err != nil {
			record.AppliedAt = time.Time{}
		}

		result = append(result, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query the migrations ledger table: %w", err)
	}

	return result, nil
}

func (drv *sqliteDriver) RecordApplied(ctx context.Context, mig migration.Migration) error {
	tableName := drv.makeEscapedLedgerTableName()

	var exists bool
	row := drv.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE version = ?)",
		tableName,
	), uint64(mig.Version))
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("failed to record version %s: %w", mig.Version, err)
	}

	if exists {
		return fmt.Errorf("%w: version %s", driver.ErrDuplicateRecord, mig.Version)
	}

	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (version, migration_name) VALUES (?, ?)",
		tableName,
	), uint64(mig.Version), mig.Name)
	if err != nil {
		return fmt.Errorf("failed to record version %s: %w", mig.Version, err)
	}

	return nil
}

func (drv *sqliteDriver) RecordReverted(ctx context.Context, mig migration.Migration) error {
	result, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE version = ?",
		drv.makeEscapedLedgerTableName(),
	), uint64(mig.Version))
	if err != nil {
		return fmt.Errorf("failed to remove the record of version %s: %w", mig.Version, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove the record of version %s: %w", mig.Version, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: version %s", driver.ErrRecordNotFound, mig.Version)
	}

	return nil
}

func (drv *sqliteDriver) ExecScript(ctx context.Context, script string) error {
	tx, err := drv.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin a transaction: %w", err)
	}

	if _, err = tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to execute migration script: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration script: %w", err)
	}

	return nil
}

func (drv *sqliteDriver) DropLedger(ctx context.Context) error {
	tableName := drv.makeEscapedLedgerTableName()

	if _, err := drv.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName); err != nil {
		return fmt.Errorf("failed to drop the migrations ledger table %s: %w", tableName, err)
	}

	return nil
}

func (drv *sqliteDriver) makeEscapedLedgerTableName() string {
	return `"` + strings.ReplaceAll(drv.config.LedgerTableName, `"`, `""`) + `"`
}
