// Package cli is the command line interface of kaidan.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-sql-driver/mysql"

	"github.com/root-talis/kaidan"
	driver2 "github.com/root-talis/kaidan/driver"
	mysqldrv "github.com/root-talis/kaidan/driver/mysql"
	sqlitedrv "github.com/root-talis/kaidan/driver/sqlite"
	"github.com/root-talis/kaidan/migration"
	"github.com/root-talis/kaidan/source/files"
)

// Context carries the process environment into command Run methods.
type Context struct {
	Ctx    context.Context
	Logger *slog.Logger
	Stdout io.Writer
}

// Globals are the flags shared by every command. They mirror the
// parameters of the original automation module: connection credentials,
// source directory and the ledger table name.
type Globals struct {
	Source      string `kong:"short='s',default='.',help='Path to the directory with migration scripts.'"`
	Driver      string `kong:"enum='mysql,sqlite',default='mysql',help='Database driver (mysql or sqlite).'"`
	Host        string `kong:"default='localhost',help='Database server host.'"`
	Port        int    `kong:"default='3306',help='Database server port.'"`
	User        string `kong:"default='root',help='Database user.'"`
	Password    string `kong:"help='Database password.'"`
	Database    string `kong:"required='',help='Database name, or the database file path for sqlite.'"`
	Table       string `kong:"default='migration',help='Name of the migrations ledger table.'"`
	AllowOneWay bool   `kong:"help='Permit up scripts without a matching down script.'"`
}

// CLI is the root of the kaidan command tree.
type CLI struct {
	Globals

	Up     UpCmd     `kong:"cmd,help='Apply the next N pending migrations.'"`
	Down   DownCmd   `kong:"cmd,help='Revert the last N applied migrations.'"`
	Goto   GotoCmd   `kong:"cmd,help='Migrate up or down to a specific version (0 reverts everything).'"`
	All    AllCmd    `kong:"cmd,help='Apply all pending migrations.'"`
	Drop   DropCmd   `kong:"cmd,help='Revert all migrations and remove the ledger table.'"`
	Status StatusCmd `kong:"cmd,help='Show the state of every known migration.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the logging level."`
	} `embed:"" prefix:"log-"`
}

// newEngine opens the database connection and wires the engine together.
// The returned cleanup function closes the connection.
func (g *Globals) newEngine(appCtx *Context) (kaidan.Kaidan, func() error, error) {
	src, err := files.NewSource(os.DirFS(g.Source), ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migrations source %q: %w", g.Source, err)
	}

	var conn *sql.DB
	var drv driver2.Driver

	switch g.Driver {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = g.User
		cfg.Passwd = g.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", g.Host, g.Port)
		cfg.DBName = g.Database
		// scripts may contain more than one statement
		cfg.MultiStatements = true

		conn, err = sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open a database connection: %w", err)
		}

		drv = mysqldrv.NewDriver(conn, mysqldrv.DriverConfig{
			DatabaseName:    g.Database,
			LedgerTableName: g.Table,
		})

	case "sqlite":
		conn, err = sql.Open("sqlite", g.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open a database connection: %w", err)
		}
		conn.SetMaxOpenConns(1)

		drv = sqlitedrv.NewDriver(conn, sqlitedrv.DriverConfig{
			LedgerTableName: g.Table,
		})

	default:
		return nil, nil, fmt.Errorf("unsupported driver %q", g.Driver)
	}

	opts := []kaidan.Option{kaidan.WithLogger(appCtx.Logger)}
	if g.AllowOneWay {
		opts = append(opts, kaidan.WithOneWayMigrations())
	}

	return kaidan.New(src, drv, opts...), conn.Close, nil
}

// execute runs one migration request end to end and prints the outcome.
func (g *Globals) execute(appCtx *Context, req migration.Request) error {
	engine, cleanup, err := g.newEngine(appCtx)
	if err != nil {
		return err
	}
	defer cleanup() //nolint:errcheck

	result, err := engine.Run(appCtx.Ctx, req)
	if result != nil {
		printResult(appCtx.Stdout, result)
	}

	return err
}

func printResult(w io.Writer, result *migration.RunResult) {
	if !result.Changed {
		fmt.Fprintf(w, "nothing to do, version is %s\n", result.VersionAfter)
		return
	}

	fmt.Fprintf(w, "version: %s -> %s (%d migrations executed)\n",
		result.VersionBefore, result.VersionAfter, len(result.Executed))
}
