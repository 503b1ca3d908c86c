package cli

import (
	"github.com/root-talis/kaidan/migration"
)

// AllCmd applies every pending migration.
type AllCmd struct{}

func (c *AllCmd) request() migration.Request {
	return migration.All()
}

func (c *AllCmd) Run(globals *Globals, appCtx *Context) error {
	return globals.execute(appCtx, c.request())
}
