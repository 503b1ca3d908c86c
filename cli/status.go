package cli

import (
	"fmt"
)

// StatusCmd prints the reconciled state of every known migration.
type StatusCmd struct{}

func (c *StatusCmd) Run(globals *Globals, appCtx *Context) error {
	engine, cleanup, err := globals.newEngine(appCtx)
	if err != nil {
		return err
	}
	defer cleanup() //nolint:errcheck

	result, err := engine.Validate(appCtx.Ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(result.Migrations))
	for _, state := range result.Migrations {
		appliedAt := ""
		if !state.AppliedAt.IsZero() {
			appliedAt = state.AppliedAt.Format("2006-01-02 15:04:05")
		}

		rows = append(rows, []string{
			state.Version.String(),
			state.Name,
			state.Status.String(),
			appliedAt,
		})
	}

	if err = renderTable([]string{"version", "name", "status", "applied at"}, rows, appCtx.Stdout); err != nil {
		return fmt.Errorf("failed to render the status table: %w", err)
	}

	fmt.Fprintf(appCtx.Stdout, "\n%d applied, %d pending, %d missing, %d conflicting\n",
		result.AppliedCount, result.PendingCount, result.MissingCount, result.ConflictCount)

	return nil
}
