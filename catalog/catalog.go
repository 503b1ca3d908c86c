// Package catalog builds the validated, ordered index of migration
// scripts for one invocation. The catalog is transient: it is rebuilt from
// the source on every run and never mutated afterwards.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/root-talis/kaidan/migration"
	"github.com/root-talis/kaidan/source"
)

var ErrIncompletePair = errors.New("incomplete migration pair")

type Options struct {
	// AllowOneWay permits up scripts without a matching down script. Down
	// operations over such versions fail at planning time.
	AllowOneWay bool
}

type Catalog struct {
	entries []migration.Description
}

// Build fetches available migrations from src and validates them: versions
// must be unique, and every version must form a complete up/down pair
// unless one-way mode is enabled.
func Build(src source.Source, opts Options) (*Catalog, error) {
	available, err := src.GetAvailableMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}

	entries := make([]migration.Description, len(*available))
	copy(entries, *available)

	// order is always re-derived from parsed versions, never trusted from
	// the source's enumeration
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version < entries[j].Version
	})

	for i, entry := range entries {
		if i > 0 && entries[i-1].Version == entry.Version {
			return nil, fmt.Errorf("%w: version %s is listed twice",
				source.ErrDuplicateVersion, entry.Version)
		}

		if !entry.HasUp {
			return nil, fmt.Errorf("%w: version %s has a down script but no up script",
				ErrIncompletePair, entry.Version)
		}

		if !entry.HasDown && !opts.AllowOneWay {
			return nil, fmt.Errorf("%w: version %s has no down script",
				ErrIncompletePair, entry.Version)
		}
	}

	return &Catalog{entries: entries}, nil
}

func (c *Catalog) Len() int {
	return len(c.entries)
}

func (c *Catalog) Empty() bool {
	return len(c.entries) == 0
}

// Entries returns all catalog entries in ascending version order.
func (c *Catalog) Entries() []migration.Description {
	return c.entries
}

// Latest returns the highest version in the catalog, or Unversioned when
// the catalog is empty.
func (c *Catalog) Latest() migration.Version {
	if len(c.entries) == 0 {
		return migration.Unversioned
	}
	return c.entries[len(c.entries)-1].Version
}

func (c *Catalog) Contains(v migration.Version) bool {
	_, ok := c.Get(v)
	return ok
}

func (c *Catalog) Get(v migration.Version) (migration.Description, bool) {
	i := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Version >= v
	})

	if i < len(c.entries) && c.entries[i].Version == v {
		return c.entries[i], true
	}

	return migration.Description{}, false
}

// Pending returns all entries with a version strictly greater than after,
// in ascending order.
func (c *Catalog) Pending(after migration.Version) []migration.Description {
	i := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Version > after
	})

	return c.entries[i:]
}

// Prefix returns all entries with a version less than or equal to v, in
// ascending order. Given a contiguous ledger this is exactly the applied
// set when v is the current version.
func (c *Catalog) Prefix(v migration.Version) []migration.Description {
	i := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Version > v
	})

	return c.entries[:i]
}
