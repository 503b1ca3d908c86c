// Package files implements a migration source that reads versioned SQL
// scripts from a directory. Script files are named
// "<version>_<name>.up.sql" and "<version>_<name>.down.sql", where version
// is a positive decimal integer (zero-padding is allowed).
package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/root-talis/kaidan/migration"
	"github.com/root-talis/kaidan/source"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var ErrNotADirectory = errors.New("migrations directory is not a directory")

type filesSource struct {
	fsys          fs.FS
	migrationsDir string
}

func NewSource(fsys fs.FS, migrationsDirectory string) (source.Source, error) {
	stat, err := fs.Stat(fsys, migrationsDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, ErrNotADirectory
	}

	return &filesSource{
		fsys:          fsys,
		migrationsDir: migrationsDirectory,
	}, nil
}

func (rdr *filesSource) GetAvailableMigrations() (*[]migration.Description, error) {
	dirEntries, err := fs.ReadDir(rdr.fsys, rdr.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	migrations := make(versionMap)
	for _, entry := range dirEntries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		mig, direction, ok, err := parseScriptFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if err = migrations.updateDescription(mig, direction); err != nil {
			return nil, fmt.Errorf("failed to parse directory entries: %w", err)
		}
	}

	keys := getSortedVersions(migrations)
	result := buildMigrationsSlice(keys, migrations)

	return &result, nil
}

func (rdr *filesSource) ReadMigration(mig migration.Migration, direction migration.Direction) (io.Reader, error) {
	fileName, err := rdr.findScriptFile(mig, direction)
	if err != nil {
		return nil, err
	}

	file, err := rdr.fsys.Open(path.Join(rdr.migrationsDir, fileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open migration script: %w", err)
	}

	return file, nil
}

// findScriptFile locates the file for a given version and direction by
// re-parsing directory entries instead of reconstructing the name, so that
// zero-padded versions resolve correctly.
func (rdr *filesSource) findScriptFile(mig migration.Migration, direction migration.Direction) (string, error) {
	dirEntries, err := fs.ReadDir(rdr.fsys, rdr.migrationsDir)
	if err != nil {
		return "", fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	for _, entry := range dirEntries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		candidate, dir, ok, err := parseScriptFileName(entry.Name())
		if err != nil || !ok {
			continue
		}

		if candidate.Version == mig.Version && dir == direction {
			return entry.Name(), nil
		}
	}

	return "", fmt.Errorf("%w: version %s (%s)", source.ErrScriptNotFound, mig.Version, direction)
}

// parseScriptFileName extracts the version, name and direction from a script
// file name. Files that don't carry the .up.sql/.down.sql suffix are not
// migrations and are reported with ok=false; files that do but have an
// invalid version prefix are an error.
func parseScriptFileName(fileName string) (migration.Migration, migration.Direction, bool, error) {
	var direction migration.Direction
	var base string

	switch {
	case strings.HasSuffix(fileName, upSuffix):
		direction = migration.Up
		base = strings.TrimSuffix(fileName, upSuffix)
	case strings.HasSuffix(fileName, downSuffix):
		direction = migration.Down
		base = strings.TrimSuffix(fileName, downSuffix)
	default:
		return migration.Migration{}, 0, false, nil
	}

	underscore := strings.IndexByte(base, '_')
	if underscore < 1 || underscore == len(base)-1 {
		return migration.Migration{}, 0, false,
			fmt.Errorf("%w: %s", source.ErrMalformedVersion, fileName)
	}

	versionPart := base[:underscore]
	name := base[underscore+1:]

	for _, c := range versionPart {
		if !unicode.IsDigit(c) {
			return migration.Migration{}, 0, false, fmt.Errorf(
				"%w (symbol %q is not allowed): %s",
				source.ErrMalformedVersion, c, fileName,
			)
		}
	}

	versionAsInt, err := strconv.ParseUint(versionPart, 10, migration.VersionBits)
	if err != nil {
		return migration.Migration{}, 0, false,
			fmt.Errorf("%w: %s", source.ErrMalformedVersion, fileName)
	}

	if migration.Version(versionAsInt) == migration.Unversioned {
		return migration.Migration{}, 0, false,
			fmt.Errorf("%w (version must be positive): %s", source.ErrMalformedVersion, fileName)
	}

	return migration.Migration{
		Version: migration.Version(versionAsInt),
		Name:    name,
	}, direction, true, nil
}

func getSortedVersions(migrations versionMap) []migration.Version {
	keys := make([]migration.Version, 0, len(migrations))

	for k := range migrations {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}

func buildMigrationsSlice(keys []migration.Version, migrations versionMap) []migration.Description {
	result := make([]migration.Description, len(keys))
	for i, k := range keys {
		result[i] = migrations[k]
	}
	return result
}

type versionMap map[migration.Version]migration.Description

func (m *versionMap) updateDescription(mig migration.Migration, direction migration.Direction) error {
	existing, exists := (*m)[mig.Version]

	if !exists {
		(*m)[mig.Version] = migration.Description{
			Migration: mig,
			HasUp:     direction == migration.Up,
			HasDown:   direction == migration.Down,
		}
		return nil
	}

	if existing.Name != mig.Name {
		return fmt.Errorf(
			"%w with a different name: version %s has both %q and %q",
			source.ErrDuplicateVersion, mig.Version, existing.Name, mig.Name,
		)
	}

	switch direction {
	case migration.Up:
		if existing.HasUp {
			return fmt.Errorf("%w: two up scripts for version %s", source.ErrDuplicateVersion, mig.Version)
		}
		existing.HasUp = true
	case migration.Down:
		if existing.HasDown {
			return fmt.Errorf("%w: two down scripts for version %s", source.ErrDuplicateVersion, mig.Version)
		}
		existing.HasDown = true
	}

	(*m)[mig.Version] = existing

	return nil
}
