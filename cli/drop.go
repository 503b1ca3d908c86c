package cli

import (
	"github.com/root-talis/kaidan/migration"
)

// DropCmd reverts every applied migration and removes the ledger table.
// Irreversible.
type DropCmd struct{}

func (c *DropCmd) request() migration.Request {
	return migration.Drop()
}

func (c *DropCmd) Run(globals *Globals, appCtx *Context) error {
	return globals.execute(appCtx, c.request())
}
