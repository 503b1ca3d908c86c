package cli

import (
	"github.com/root-talis/kaidan/migration"
)

// UpCmd applies the next N pending migrations.
type UpCmd struct {
	Count uint `kong:"arg,help='Number of migrations to apply.'"`
}

func (c *UpCmd) request() migration.Request {
	return migration.UpBy(c.Count)
}

func (c *UpCmd) Run(globals *Globals, appCtx *Context) error {
	return globals.execute(appCtx, c.request())
}
