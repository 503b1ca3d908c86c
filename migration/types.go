package migration

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

type Direction rune

const (
	Down Direction = 'd'
	Up   Direction = 'u'
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("Direction(%c)", rune(d))
	}
}

// ---

const VersionBits = 64

type Version uint64

// Unversioned is the sentinel state below all migrations: an empty ledger.
const Unversioned Version = 0

func (v Version) String() string {
	if v == Unversioned {
		return "none"
	}
	return strconv.FormatUint(uint64(v), 10)
}

type Migration struct {
	Version Version
	Name    string
}

// ---

// Description is one catalog entry: a version together with the directions
// it has scripts for.
type Description struct {
	Migration
	HasUp   bool
	HasDown bool
}

// Record is one ledger row: a version that is currently applied.
type Record struct {
	Migration
	AppliedAt time.Time
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Missing
	Conflict
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case Missing:
		return "missing"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("Status(%d)", uint(s))
	}
}

// State is the reconciled view of one version: what the catalog offers
// vs. what the ledger has recorded.
type State struct {
	Description
	Status    Status
	AppliedAt time.Time
}

// ---

// Step is one planned script execution.
type Step struct {
	Migration
	Direction Direction
}

// Plan is the ordered list of steps for one invocation. It is computed
// fresh per run and never persisted.
type Plan []Step

// ---

type Op uint8

const (
	OpUp Op = iota + 1
	OpDown
	OpGoto
	OpAll
	OpDrop
)

func (op Op) String() string {
	switch op {
	case OpUp:
		return "up"
	case OpDown:
		return "down"
	case OpGoto:
		return "goto"
	case OpAll:
		return "all"
	case OpDrop:
		return "drop"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

var ErrInvalidRequest = errors.New("invalid migration request")

// Request is the tagged variant of all supported operations. Count is only
// meaningful for up/down, Target only for goto.
type Request struct {
	Op     Op
	Count  uint
	Target Version
}

func UpBy(n uint) Request {
	return Request{Op: OpUp, Count: n}
}

func DownBy(n uint) Request {
	return Request{Op: OpDown, Count: n}
}

func GotoVersion(v Version) Request {
	return Request{Op: OpGoto, Target: v}
}

func All() Request {
	return Request{Op: OpAll}
}

func Drop() Request {
	return Request{Op: OpDrop}
}

func (r Request) Validate() error {
	switch r.Op {
	case OpUp, OpDown:
		if r.Count < 1 {
			return fmt.Errorf("%w: %s requires a positive count", ErrInvalidRequest, r.Op)
		}
	case OpGoto, OpAll, OpDrop:
		// goto accepts any target including Unversioned
	default:
		return fmt.Errorf("%w: unknown operation", ErrInvalidRequest)
	}

	return nil
}

// ---

// RunResult summarizes one invocation for the caller.
type RunResult struct {
	Changed       bool
	VersionBefore Version
	VersionAfter  Version

	// Executed lists the versions that were run, in execution order
	// (ascending for up runs, descending for down runs).
	Executed []Version
}
