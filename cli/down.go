package cli

import (
	"github.com/root-talis/kaidan/migration"
)

// DownCmd reverts the last N applied migrations.
type DownCmd struct {
	Count uint `kong:"arg,help='Number of migrations to revert.'"`
}

func (c *DownCmd) request() migration.Request {
	return migration.DownBy(c.Count)
}

func (c *DownCmd) Run(globals *Globals, appCtx *Context) error {
	return globals.execute(appCtx, c.request())
}
