package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/root-talis/kaidan/driver"
	"github.com/root-talis/kaidan/migration"
)

const duplicateKeyErrNumber = 1062

type DriverConfig struct {
	DatabaseName    string
	LedgerTableName string
}

type mysqlDriver struct {
	conn   *sql.DB
	config DriverConfig
}

func NewDriver(conn *sql.DB, config DriverConfig) driver.Driver {
	return &mysqlDriver{
		conn:   conn,
		config: config,
	}
}

func (drv *mysqlDriver) EnsureSchema(ctx context.Context) error {
	tableName := drv.makeEscapedLedgerTableName()

	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"version        bigint unsigned not null, "+
			"migration_name varchar(100) null, "+
			"applied_at     datetime default CURRENT_TIMESTAMP not null, "+
			"primary key (version)"+
			") default charset utf8",
		tableName,
	))

	if err != nil {
		return fmt.Errorf("failed to create the migrations ledger table %s: %w", tableName, err)
	}

	return nil
}

func (drv *mysqlDriver) CurrentVersion(ctx context.Context) (migration.Version, error) {
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

func (drv *mysqlDriver) ListRecords(ctx context.Context) ([]migration.Record, error) {
	rows, err := drv.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT version, migration_name, applied_at FROM %s ORDER BY version",
		drv.makeEscapedLedgerTableName(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied versions: %w", err)
	}
	defer rows.Close()

	return fetchRecords(rows)
}

func fetchRecords(rows *sql.Rows) ([]migration.Record, error) {
	result := make([]migration.Record, 0)
	for rows.Next() {
		var record migration.Record
		var name sql.NullString
		var appliedAt string

		err := rows.Scan(
			&record.Version,
			&name,
			&appliedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", driver.ErrInvalidLedgerTable, err)
		}

		record.Name = name.String

		record.AppliedAt, err = time.Parse("2006-01-02 15:04:05", appliedAt)
		if err != nil {
			record.AppliedAt = time.Time{}
		}

		result = append(result, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query the migrations ledger table: %w", err)
	}

	return result, nil
}

func (drv *mysqlDriver) RecordApplied(ctx context.Context, mig migration.Migration) error {
	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (version, migration_name) VALUES (?, ?)",
		drv.makeEscapedLedgerTableName(),
	), uint64(mig.Version), mig.Name)

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateKeyErrNumber {
		return fmt.Errorf("%w: version %s", driver.ErrDuplicateRecord, mig.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to record version %s: %w", mig.Version, err)
	}

	return nil
}

func (drv *mysqlDriver) RecordReverted(ctx context.Context, mig migration.Migration) error {
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

// ExecScript runs the script in its own transaction. Note that MySQL
// auto-commits around DDL, so a failing script with mixed DDL/DML may
// still leave earlier DDL statements in place.
func (drv *mysqlDriver) ExecScript(ctx context.Context, script string) error {
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

func (drv *mysqlDriver) DropLedger(ctx context.Context) error {
	tableName := drv.makeEscapedLedgerTableName()

	if _, err := drv.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName); err != nil {
		return fmt.Errorf("failed to drop the migrations ledger table %s: %w", tableName, err)
	}

	return nil
}

func (drv *mysqlDriver) makeEscapedLedgerTableName() string {
	return fmt.Sprintf(
		"`%s`.`%s`",
		escapeMysqlString(drv.config.DatabaseName),
		escapeMysqlString(drv.config.LedgerTableName),
	)
}

// originally from https://gist.github.com/siddontang/8875771
func escapeMysqlString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '`':
			escape = '`'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}
