package source

import (
	"errors"
	"io"

	"github.com/root-talis/kaidan/migration"
)

type Source interface {
	GetAvailableMigrations() (*[]migration.Description, error)
	ReadMigration(migration migration.Migration, direction migration.Direction) (io.Reader, error)
}

var (
	ErrMalformedVersion = errors.New("migration file name does not contain a valid version")
	ErrDuplicateVersion = errors.New("migration version already exists")
	ErrScriptNotFound   = errors.New("migration script not found")
)
