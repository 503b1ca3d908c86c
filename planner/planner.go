// Package planner computes the ordered execution plan for one invocation.
// Planning is pure: it has no side effects and is deterministic for a given
// current version, catalog and request.
package planner

import (
	"errors"
	"fmt"

	"github.com/root-talis/kaidan/catalog"
	"github.com/root-talis/kaidan/migration"
)

var (
	ErrUnknownVersion = errors.New("version not found in the migrations catalog")
	ErrNotReversible  = errors.New("migration has no down script")
)

// Plan computes the steps required to satisfy req starting from current.
// Output versions are strictly ascending for up plans and strictly
// descending for down plans. An empty catalog yields an empty plan for any
// request.
func Plan(current migration.Version, cat *catalog.Catalog, req migration.Request) (migration.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Op {
	case migration.OpUp:
		return upPlan(limit(cat.Pending(current), req.Count)), nil

	case migration.OpDown:
		return downPlan(limitTail(cat.Prefix(current), req.Count))

	case migration.OpGoto:
		return gotoPlan(current, cat, req.Target)

	case migration.OpAll:
		return upPlan(cat.Pending(current)), nil

	case migration.OpDrop:
		return downPlan(cat.Prefix(current))

	default:
		return nil, fmt.Errorf("%w: unknown operation", migration.ErrInvalidRequest)
	}
}

func gotoPlan(current migration.Version, cat *catalog.Catalog, target migration.Version) (migration.Plan, error) {
	if target == current {
		return migration.Plan{}, nil
	}

	if target != migration.Unversioned && !cat.Contains(target) {
		return nil, fmt.Errorf("%w: goto %s", ErrUnknownVersion, target)
	}

	if target > current {
		// all versions in (current, target], ascending
		pending := cat.Pending(current)
		end := 0
		for end < len(pending) && pending[end].Version <= target {
			end++
		}
		return upPlan(pending[:end]), nil
	}

	// all versions in (target, current], descending
	applied := cat.Prefix(current)
	start := 0
	for start < len(applied) && applied[start].Version <= target {
		start++
	}
	return downPlan(applied[start:])
}

func upPlan(entries []migration.Description) migration.Plan {
	plan := make(migration.Plan, len(entries))
	for i, entry := range entries {
		plan[i] = migration.Step{Migration: entry.Migration, Direction: migration.Up}
	}
	return plan
}

// downPlan reverses the ascending entries into a descending plan and
// rejects versions that cannot be undone.
func downPlan(entries []migration.Description) (migration.Plan, error) {
	plan := make(migration.Plan, len(entries))
	for i, entry := range entries {
		if !entry.HasDown {
			return nil, fmt.Errorf("%w: version %s", ErrNotReversible, entry.Version)
		}
		plan[len(entries)-1-i] = migration.Step{Migration: entry.Migration, Direction: migration.Down}
	}
	return plan, nil
}

// limit keeps the first n entries; n is always >= 1 for up/down requests.
func limit(entries []migration.Description, n uint) []migration.Description {
	if uint(len(entries)) > n {
		return entries[:n]
	}
	return entries
}

// limitTail keeps the last n entries (the highest versions).
func limitTail(entries []migration.Description, n uint) []migration.Description {
	if uint(len(entries)) > n {
		return entries[uint(len(entries))-n:]
	}
	return entries
}
