// Package kaidan is a versioned SQL migration engine. It discovers up/down
// script pairs from a source, reconciles them against a ledger persisted in
// the target database, and applies migrations up, down, to a target version
// or drops everything it manages.
//
// Two invocations must never race on the same target database; mutual
// exclusion (e.g. a deployment lock) is the caller's responsibility.
package kaidan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/root-talis/kaidan/catalog"
	"github.com/root-talis/kaidan/driver"
	"github.com/root-talis/kaidan/migration"
	"github.com/root-talis/kaidan/planner"
	source2 "github.com/root-talis/kaidan/source"
)

// ---

type Kaidan interface {
	// Validate reconciles available migrations against the ledger without
	// executing anything.
	Validate(ctx context.Context) (*ValidationResult, error)

	// Run executes the requested operation. On a step failure it returns
	// the partial result together with a *StepError; the ledger reflects
	// every step that completed before the failure.
	Run(ctx context.Context, req migration.Request) (*migration.RunResult, error)
}

type ValidationResult struct {
	Migrations    []migration.State
	AppliedCount  uint
	PendingCount  uint
	MissingCount  uint
	ConflictCount uint
}

// ErrLedgerConflict means the ledger is not a contiguous, name-matching
// prefix of the catalog. Running migrations over a conflicting ledger is
// unsafe, so the engine refuses before executing anything.
var ErrLedgerConflict = errors.New("migrations ledger does not match the catalog")

// StepError reports the migration step that failed and the underlying
// database error.
type StepError struct {
	Step migration.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s (%s, %s) failed: %v",
		e.Step.Version, e.Step.Name, e.Step.Direction, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ---

type kaidanImpl struct {
	source      source2.Source
	driver      driver.Driver
	logger      *slog.Logger
	allowOneWay bool
}

type Option func(*kaidanImpl)

func WithLogger(logger *slog.Logger) Option {
	return func(m *kaidanImpl) {
		m.logger = logger
	}
}

// WithOneWayMigrations permits up scripts without a matching down script.
// Down operations over such versions fail at planning time.
func WithOneWayMigrations() Option {
	return func(m *kaidanImpl) {
		m.allowOneWay = true
	}
}

// ---

func New(source source2.Source, driver driver.Driver, opts ...Option) Kaidan {
	m := &kaidanImpl{
		source: source,
		driver: driver,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ---

func (m *kaidanImpl) Run(ctx context.Context, req migration.Request) (*migration.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cat, err := catalog.Build(m.source, catalog.Options{AllowOneWay: m.allowOneWay})
	if err != nil {
		return nil, fmt.Errorf("failed to build the migrations catalog: %w", err)
	}

	if err = m.driver.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure the ledger schema: %w", err)
	}

	records, err := m.driver.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load the migrations ledger: %w", err)
	}

	if err = verifyLedgerPrefix(cat, records); err != nil {
		return nil, err
	}

	current := currentVersionOf(records)

	plan, err := planner.Plan(current, cat, req)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("computed execution plan",
		"operation", req.Op.String(),
		"current", current.String(),
		"steps", len(plan))

	result := &migration.RunResult{
		VersionBefore: current,
		VersionAfter:  current,
		Executed:      make([]migration.Version, 0, len(plan)),
	}

	for _, step := range plan {
		if err = m.runStep(ctx, cat, step, result); err != nil {
			return result, err
		}
	}

	if req.Op == migration.OpDrop {
		if err = m.driver.DropLedger(ctx); err != nil {
			return result, fmt.Errorf("failed to drop the migrations ledger: %w", err)
		}
		result.Changed = true
		result.VersionAfter = migration.Unversioned
		m.logger.Info("dropped the migrations ledger")
	}

	return result, nil
}

// runStep executes one script and commits its ledger entry. The ledger
// update happens strictly after the script has fully succeeded, so an
// interrupted run always leaves the ledger at a contiguous prefix.
func (m *kaidanImpl) runStep(ctx context.Context, cat *catalog.Catalog, step migration.Step, result *migration.RunResult) error {
	m.logger.Info("running migration",
		"version", step.Version.String(),
		"name", step.Name,
		"direction", step.Direction.String())

	script, err := m.readScript(step)
	if err != nil {
		return &StepError{Step: step, Err: err}
	}

	if err = m.driver.ExecScript(ctx, script); err != nil {
		return &StepError{Step: step, Err: err}
	}

	switch step.Direction {
	case migration.Up:
		err = m.driver.RecordApplied(ctx, step.Migration)
	case migration.Down:
		err = m.driver.RecordReverted(ctx, step.Migration)
	}
	if err != nil {
		return &StepError{Step: step, Err: err}
	}

	result.Changed = true
	result.Executed = append(result.Executed, step.Version)

	if step.Direction == migration.Up {
		result.VersionAfter = step.Version
	} else {
		result.VersionAfter = versionBelow(cat, step.Version)
	}

	return nil
}

func (m *kaidanImpl) readScript(step migration.Step) (string, error) {
	rdr, err := m.source.ReadMigration(step.Migration, step.Direction)
	if err != nil {
		return "", fmt.Errorf("failed to read migration script: %w", err)
	}

	if closer, ok := rdr.(io.Closer); ok {
		defer closer.Close()
	}

	script, err := io.ReadAll(rdr)
	if err != nil {
		return "", fmt.Errorf("failed to read migration script: %w", err)
	}

	return string(script), nil
}

// ---

func (m *kaidanImpl) Validate(ctx context.Context) (*ValidationResult, error) {
	// validation is a read-only report, so one-way migrations are always
	// tolerated here even when the engine is configured strictly
	cat, err := catalog.Build(m.source, catalog.Options{AllowOneWay: true})
	if err != nil {
		return nil, fmt.Errorf("failed to build the migrations catalog: %w", err)
	}

	if err = m.driver.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure the ledger schema: %w", err)
	}

	records, err := m.driver.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load the migrations ledger: %w", err)
	}

	recordsByVersion := make(map[migration.Version]migration.Record, len(records))
	for _, record := range records {
		recordsByVersion[record.Version] = record
	}

	result := ValidationResult{
		Migrations: make([]migration.State, 0, cat.Len()),
	}

	for _, entry := range cat.Entries() {
		record, applied := recordsByVersion[entry.Version]

		switch {
		case !applied:
			result.Migrations = append(result.Migrations, migration.State{
				Description: entry,
				Status:      migration.Pending,
			})
			result.PendingCount++

		case record.Name != "" && record.Name != entry.Name:
			result.Migrations = append(result.Migrations, migration.State{
				Description: entry,
				Status:      migration.Conflict,
				AppliedAt:   record.AppliedAt,
			})
			result.ConflictCount++

		default:
			result.Migrations = append(result.Migrations, migration.State{
				Description: entry,
				Status:      migration.Applied,
				AppliedAt:   record.AppliedAt,
			})
			result.AppliedCount++
		}
	}

	for _, record := range records {
		if cat.Contains(record.Version) {
			continue
		}

		result.Migrations = append(result.Migrations, migration.State{
			Description: migration.Description{Migration: record.Migration},
			Status:      migration.Missing,
			AppliedAt:   record.AppliedAt,
		})
		result.MissingCount++
	}

	sort.Slice(result.Migrations, func(i, j int) bool {
		return result.Migrations[i].Version < result.Migrations[j].Version
	})

	return &result, nil
}

// ---

// verifyLedgerPrefix checks that ledger records form a contiguous prefix of
// the catalog with matching names. Records without a stored name are
// accepted against any catalog name.
func verifyLedgerPrefix(cat *catalog.Catalog, records []migration.Record) error {
	entries := cat.Entries()

	if len(records) > len(entries) {
		return fmt.Errorf("%w: ledger has %d records but the catalog only has %d versions",
			ErrLedgerConflict, len(records), len(entries))
	}

	for i, record := range records {
		if entries[i].Version != record.Version {
			return fmt.Errorf("%w: ledger records version %s where the catalog expects %s",
				ErrLedgerConflict, record.Version, entries[i].Version)
		}

		if record.Name != "" && record.Name != entries[i].Name {
			return fmt.Errorf("%w: version %s is recorded as %q but the catalog names it %q",
				ErrLedgerConflict, record.Version, record.Name, entries[i].Name)
		}
	}

	return nil
}

func currentVersionOf(records []migration.Record) migration.Version {
	if len(records) == 0 {
		return migration.Unversioned
	}
	return records[len(records)-1].Version
}

// versionBelow returns the catalog version directly below v, or
// Unversioned when v is the lowest one.
func versionBelow(cat *catalog.Catalog, v migration.Version) migration.Version {
	prefix := cat.Prefix(v - 1)
	if len(prefix) == 0 {
		return migration.Unversioned
	}
	return prefix[len(prefix)-1].Version
}
