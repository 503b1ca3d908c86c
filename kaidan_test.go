package kaidan_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/kaidan"
	"github.com/root-talis/kaidan/catalog"
	"github.com/root-talis/kaidan/migration"
	"github.com/root-talis/kaidan/planner"
)

// -- testing double for source ----------

type sourceMock struct {
	descr []migration.Description
	err   error
}

func (m *sourceMock) GetAvailableMigrations() (*[]migration.Description, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &m.descr, nil
}

func (m *sourceMock) ReadMigration(mig migration.Migration, direction migration.Direction) (io.Reader, error) {
	return strings.NewReader(scriptFor(mig.Version, direction)), nil
}

func scriptFor(version migration.Version, direction migration.Direction) string {
	return fmt.Sprintf("-- %s %s", version, direction)
}

// -- testing double for driver ----------

type driverMock struct {
	records []migration.Record

	executed    []string
	failOn      string
	failErr     error
	ensureCalls int
	dropped     bool
}

func (m *driverMock) EnsureSchema(ctx context.Context) error {
	m.ensureCalls++
	return nil
}

func (m *driverMock) CurrentVersion(ctx context.Context) (migration.Version, error) {
	if len(m.records) == 0 {
		return migration.Unversioned, nil
	}
	return m.records[len(m.records)-1].Version, nil
}

func (m *driverMock) ListRecords(ctx context.Context) ([]migration.Record, error) {
	result := make([]migration.Record, len(m.records))
	copy(result, m.records)
	return result, nil
}

func (m *driverMock) RecordApplied(ctx context.Context, mig migration.Migration) error {
	for _, record := range m.records {
		if record.Version == mig.Version {
			return fmt.Errorf("duplicate: %w", errors.New("already recorded"))
		}
	}

	m.records = append(m.records, migration.Record{Migration: mig, AppliedAt: time.Unix(12345, 0)})
	sort.Slice(m.records, func(i, j int) bool {
		return m.records[i].Version < m.records[j].Version
	})

	return nil
}

func (m *driverMock) RecordReverted(ctx context.Context, mig migration.Migration) error {
	for i, record := range m.records {
		if record.Version == mig.Version {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return errors.New("not recorded")
}

func (m *driverMock) ExecScript(ctx context.Context, script string) error {
	if m.failOn != "" && script == m.failOn {
		return m.failErr
	}
	m.executed = append(m.executed, script)
	return nil
}

func (m *driverMock) DropLedger(ctx context.Context) error {
	m.dropped = true
	m.records = nil
	return nil
}

func (m *driverMock) versions() []migration.Version {
	result := make([]migration.Version, 0, len(m.records))
	for _, record := range m.records {
		result = append(result, record.Version)
	}
	return result
}

// ---

func pair(version migration.Version, name string) migration.Description {
	return migration.Description{
		Migration: migration.Migration{Version: version, Name: name},
		HasUp:     true,
		HasDown:   true,
	}
}

func record(version migration.Version, name string) migration.Record {
	return migration.Record{
		Migration: migration.Migration{Version: version, Name: name},
		AppliedAt: time.Unix(12345, 0),
	}
}

var fiveVersions = []migration.Description{ // nolint:gochecknoglobals
	pair(1, "initial"),
	pair(2, "users"),
	pair(3, "sessions"),
	pair(4, "indexes"),
	pair(5, "permissions"),
}

var ErrAny = errors.New("test error")

//
// -- Tests for Kaidan.Run() ------------
//

var runTestsTable = []struct { // nolint:gochecknoglobals
	name    string
	descr   []migration.Description
	records []migration.Record
	request migration.Request

	expectedErr      error
	expectedChanged  bool
	expectedBefore   migration.Version
	expectedAfter    migration.Version
	expectedExecuted []migration.Version
	expectedLedger   []migration.Version
	expectDropped    bool
}{
	/* s0 */ {
		name:             "test s0: up(2) from an empty ledger applies the first two versions",
		descr:            fiveVersions,
		request:          migration.UpBy(2),
		expectedChanged:  true,
		expectedBefore:   migration.Unversioned,
		expectedAfter:    2,
		expectedExecuted: []migration.Version{1, 2},
		expectedLedger:   []migration.Version{1, 2},
	},
	/* s1 */ {
		name:             "test s1: down(5) from version 2 is clamped and reverts everything",
		descr:            fiveVersions,
		records:          []migration.Record{record(1, "initial"), record(2, "users")},
		request:          migration.DownBy(5),
		expectedChanged:  true,
		expectedBefore:   2,
		expectedAfter:    migration.Unversioned,
		expectedExecuted: []migration.Version{2, 1},
		expectedLedger:   []migration.Version{},
	},
	/* s2 */ {
		name:             "test s2: goto the current version changes nothing",
		descr:            fiveVersions,
		records:          []migration.Record{record(1, "initial"), record(2, "users")},
		request:          migration.GotoVersion(2),
		expectedChanged:  false,
		expectedBefore:   2,
		expectedAfter:    2,
		expectedExecuted: []migration.Version{},
		expectedLedger:   []migration.Version{1, 2},
	},
	/* s3 */ {
		name:             "test s3: all applies every pending version",
		descr:            fiveVersions,
		records:          []migration.Record{record(1, "initial")},
		request:          migration.All(),
		expectedChanged:  true,
		expectedBefore:   1,
		expectedAfter:    5,
		expectedExecuted: []migration.Version{2, 3, 4, 5},
		expectedLedger:   []migration.Version{1, 2, 3, 4, 5},
	},
	/* s4 */ {
		name:             "test s4: goto below the current version reverts the difference",
		descr:            fiveVersions,
		records:          []migration.Record{record(1, "initial"), record(2, "users"), record(3, "sessions")},
		request:          migration.GotoVersion(1),
		expectedChanged:  true,
		expectedBefore:   3,
		expectedAfter:    1,
		expectedExecuted: []migration.Version{3, 2},
		expectedLedger:   []migration.Version{1},
	},
	/* s5 */ {
		name:             "test s5: drop reverts everything and removes the ledger",
		descr:            fiveVersions[:3],
		records:          []migration.Record{record(1, "initial"), record(2, "users"), record(3, "sessions")},
		request:          migration.Drop(),
		expectedChanged:  true,
		expectedBefore:   3,
		expectedAfter:    migration.Unversioned,
		expectedExecuted: []migration.Version{3, 2, 1},
		expectedLedger:   []migration.Version{},
		expectDropped:    true,
	},
	/* s6 */ {
		name:             "test s6: drop over an empty ledger still removes the ledger table",
		descr:            fiveVersions[:3],
		request:          migration.Drop(),
		expectedChanged:  true,
		expectedBefore:   migration.Unversioned,
		expectedAfter:    migration.Unversioned,
		expectedExecuted: []migration.Version{},
		expectedLedger:   []migration.Version{},
		expectDropped:    true,
	},
	/* s7 */ {
		name:             "test s7: records without a stored name are accepted",
		descr:            fiveVersions[:2],
		records:          []migration.Record{{Migration: migration.Migration{Version: 1}, AppliedAt: time.Unix(12345, 0)}},
		request:          migration.All(),
		expectedChanged:  true,
		expectedBefore:   1,
		expectedAfter:    2,
		expectedExecuted: []migration.Version{2},
		expectedLedger:   []migration.Version{1, 2},
	},

	/* e0 */ {
		name:        "test e0: goto an unknown version fails with no side effects",
		descr:       fiveVersions[:3],
		records:     []migration.Record{record(1, "initial")},
		request:     migration.GotoVersion(5),
		expectedErr: planner.ErrUnknownVersion,
	},
	/* e1 */ {
		name:        "test e1: up(0) fails with no side effects",
		descr:       fiveVersions,
		request:     migration.UpBy(0),
		expectedErr: migration.ErrInvalidRequest,
	},
	/* e2 */ {
		name:        "test e2: an incomplete pair fails the catalog build",
		descr:       []migration.Description{{Migration: migration.Migration{Version: 1, Name: "initial"}, HasUp: true}},
		request:     migration.All(),
		expectedErr: catalog.ErrIncompletePair,
	},
	/* e3 */ {
		name:        "test e3: a gap between ledger and catalog fails",
		descr:       fiveVersions[:3],
		records:     []migration.Record{record(2, "users")},
		request:     migration.All(),
		expectedErr: kaidan.ErrLedgerConflict,
	},
	/* e4 */ {
		name:        "test e4: a name mismatch between ledger and catalog fails",
		descr:       fiveVersions[:2],
		records:     []migration.Record{record(1, "something_else")},
		request:     migration.All(),
		expectedErr: kaidan.ErrLedgerConflict,
	},
	/* e5 */ {
		name:        "test e5: a ledger record unknown to the catalog fails",
		descr:       fiveVersions[:1],
		records:     []migration.Record{record(1, "initial"), record(9, "ghost")},
		request:     migration.All(),
		expectedErr: kaidan.ErrLedgerConflict,
	},
}

func TestRun(t *testing.T) {
	t.Parallel()
	t.Logf("Should execute migration requests and keep the ledger contiguous.")

	for _, test := range runTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			src := &sourceMock{descr: test.descr}
			drv := &driverMock{records: test.records}

			engine := kaidan.New(src, drv)
			result, err := engine.Run(context.Background(), test.request)

			if test.expectedErr != nil {
				assert.ErrorIs(t, err, test.expectedErr)
				assert.Empty(t, drv.executed)
				assert.False(t, drv.dropped)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, result)

			assert.Equal(t, test.expectedChanged, result.Changed)
			assert.Equal(t, test.expectedBefore, result.VersionBefore)
			assert.Equal(t, test.expectedAfter, result.VersionAfter)
			assert.Equal(t, test.expectedExecuted, result.Executed)
			assert.Equal(t, test.expectedLedger, drv.versions())
			assert.Equal(t, test.expectDropped, drv.dropped)
		})
	}
}

func TestRunHaltsOnFirstFailure(t *testing.T) {
	t.Parallel()

	src := &sourceMock{descr: fiveVersions}
	drv := &driverMock{
		failOn:  scriptFor(2, migration.Up),
		failErr: ErrAny,
	}

	engine := kaidan.New(src, drv)
	result, err := engine.Run(context.Background(), migration.All())

	var stepErr *kaidan.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, migration.Version(2), stepErr.Step.Version)
	assert.Equal(t, migration.Up, stepErr.Step.Direction)
	assert.ErrorIs(t, err, ErrAny)

	// the ledger must reflect everything strictly before the failure point
	require.NotNil(t, result)
	assert.True(t, result.Changed)
	assert.Equal(t, migration.Version(1), result.VersionAfter)
	assert.Equal(t, []migration.Version{1}, result.Executed)
	assert.Equal(t, []migration.Version{1}, drv.versions())

	// no later script may have been attempted
	assert.Equal(t, []string{scriptFor(1, migration.Up)}, drv.executed)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	src := &sourceMock{descr: fiveVersions}
	drv := &driverMock{}
	engine := kaidan.New(src, drv)

	first, err := engine.Run(context.Background(), migration.All())
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, migration.Version(5), first.VersionAfter)

	second, err := engine.Run(context.Background(), migration.All())
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Empty(t, second.Executed)
	assert.Equal(t, migration.Version(5), second.VersionAfter)
}

func TestGotoRoundTrip(t *testing.T) {
	t.Parallel()

	src := &sourceMock{descr: fiveVersions}
	drv := &driverMock{}
	engine := kaidan.New(src, drv)

	_, err := engine.Run(context.Background(), migration.GotoVersion(3))
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{1, 2, 3}, drv.versions())

	_, err = engine.Run(context.Background(), migration.GotoVersion(1))
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{1}, drv.versions())

	_, err = engine.Run(context.Background(), migration.GotoVersion(3))
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{1, 2, 3}, drv.versions())
}

func TestOneWayMigrations(t *testing.T) {
	t.Parallel()

	descr := []migration.Description{
		pair(1, "initial"),
		{Migration: migration.Migration{Version: 2, Name: "users"}, HasUp: true},
	}

	t.Run("up works when one-way mode is enabled", func(t *testing.T) {
		t.Parallel()

		drv := &driverMock{}
		engine := kaidan.New(&sourceMock{descr: descr}, drv, kaidan.WithOneWayMigrations())

		result, err := engine.Run(context.Background(), migration.All())
		require.NoError(t, err)
		assert.Equal(t, migration.Version(2), result.VersionAfter)
	})

	t.Run("down over the one-way version fails", func(t *testing.T) {
		t.Parallel()

		drv := &driverMock{records: []migration.Record{record(1, "initial"), record(2, "users")}}
		engine := kaidan.New(&sourceMock{descr: descr}, drv, kaidan.WithOneWayMigrations())

		_, err := engine.Run(context.Background(), migration.DownBy(1))
		assert.ErrorIs(t, err, planner.ErrNotReversible)
		assert.Empty(t, drv.executed)
	})
}

//
// -- Tests for Kaidan.Validate() ------------
//

var validateTestsTable = []struct { // nolint:gochecknoglobals
	name    string
	descr   []migration.Description
	records []migration.Record

	expectedResult kaidan.ValidationResult
	expectError    bool
}{
	/* s0 */ {
		name:    "test s0: an empty catalog and ledger yield an empty report",
		descr:   []migration.Description{},
		records: []migration.Record{},
		expectedResult: kaidan.ValidationResult{
			Migrations: []migration.State{},
		},
	},
	/* s1 */ {
		name:  "test s1: should spot all pending migrations",
		descr: fiveVersions[:2],
		expectedResult: kaidan.ValidationResult{
			Migrations: []migration.State{
				{Description: pair(1, "initial"), Status: migration.Pending},
				{Description: pair(2, "users"), Status: migration.Pending},
			},
			PendingCount: 2,
		},
	},
	/* s2 */ {
		name:    "test s2: should spot applied and pending migrations",
		descr:   fiveVersions[:3],
		records: []migration.Record{record(1, "initial"), record(2, "users")},
		expectedResult: kaidan.ValidationResult{
			Migrations: []migration.State{
				{Description: pair(1, "initial"), Status: migration.Applied, AppliedAt: time.Unix(12345, 0)},
				{Description: pair(2, "users"), Status: migration.Applied, AppliedAt: time.Unix(12345, 0)},
				{Description: pair(3, "sessions"), Status: migration.Pending},
			},
			AppliedCount: 2,
			PendingCount: 1,
		},
	},
	/* s3 */ {
		name:    "test s3: should spot missing migrations",
		descr:   fiveVersions[:1],
		records: []migration.Record{record(1, "initial"), record(9, "ghost")},
		expectedResult: kaidan.ValidationResult{
			Migrations: []migration.State{
				{Description: pair(1, "initial"), Status: migration.Applied, AppliedAt: time.Unix(12345, 0)},
				{
					Description: migration.Description{Migration: migration.Migration{Version: 9, Name: "ghost"}},
					Status:      migration.Missing,
					AppliedAt:   time.Unix(12345, 0),
				},
			},
			AppliedCount: 1,
			MissingCount: 1,
		},
	},
	/* s4 */ {
		name:    "test s4: should spot name conflicts",
		descr:   fiveVersions[:1],
		records: []migration.Record{record(1, "somebody_renamed_me")},
		expectedResult: kaidan.ValidationResult{
			Migrations: []migration.State{
				{Description: pair(1, "initial"), Status: migration.Conflict, AppliedAt: time.Unix(12345, 0)},
			},
			ConflictCount: 1,
		},
	},

	/* e0 */ {
		name:        "test e0: should return an error if the source fails",
		expectError: true,
	},
}

func TestValidate(t *testing.T) {
	t.Parallel()
	t.Logf("Should correctly reconcile the catalog against the ledger.")

	for _, test := range validateTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			src := &sourceMock{descr: test.descr}
			if test.expectError {
				src.err = ErrAny
			}
			drv := &driverMock{records: test.records}

			engine := kaidan.New(src, drv)
			result, err := engine.Validate(context.Background())

			if test.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expectedResult, *result)
		})
	}
}
