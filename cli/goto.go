package cli

import (
	"github.com/root-talis/kaidan/migration"
)

// GotoCmd migrates up or down to a specific version. Version 0 reverts
// every applied migration.
type GotoCmd struct {
	Version uint64 `kong:"arg,help='Target version.'"`
}

func (c *GotoCmd) request() migration.Request {
	return migration.GotoVersion(migration.Version(c.Version))
}

func (c *GotoCmd) Run(globals *Globals, appCtx *Context) error {
	return globals.execute(appCtx, c.request())
}
