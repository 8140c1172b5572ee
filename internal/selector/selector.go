// Package selector picks commands to fuzz from the enumeration, filtered by
// exclusion patterns and resolved against the command database.
package selector

import (
	"fmt"
	"slices"
	"strings"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/enum"
	fuzzerrors "github.com/c2afuzz/c2afuzz/internal/errors"
	"github.com/c2afuzz/c2afuzz/internal/params"
)

// DefaultExclusions are substrings of commands that disrupt a fuzzing
// session: memory writes, raw driver transmits, telemetry reconfiguration
// and the no-op.
var DefaultExclusions = []string{
	"MEM_LOAD",
	"CDRV_UTIL_HAL_TX",
	"TLM_MGR_START_TLM",
	"NOP",
	"TLM_MGR_REGISTER_REPLAY_TLM",
}

// Selection is one resolved command.
type Selection struct {
	Name       string
	Code       uint32
	Descriptor cmddb.Descriptor
	InDatabase bool
}

// Request narrows a draw.
type Request struct {
	// Name, when set, must match an eligible command exactly.
	Name string
	// Seed, when set, reseeds the shared source before the draw.
	Seed *uint64
}

// Selector merges a database and an enumeration.
type Selector struct {
	db      *cmddb.Database
	idx     *enum.Index
	exclude []string
	rnd     *params.Rand
}

// New returns a selector. exclude is copied; nil means no exclusions.
func New(db *cmddb.Database, idx *enum.Index, exclude []string, rnd *params.Rand) *Selector {
	if db == nil {
		db = cmddb.Empty()
	}
	if idx == nil {
		idx = enum.New(nil)
	}
	if rnd == nil {
		rnd = params.NewTimeRand()
	}
	return &Selector{db: db, idx: idx, exclude: slices.Clone(exclude), rnd: rnd}
}

// SetDatabase swaps the command database, e.g. after a reload.
func (s *Selector) SetDatabase(db *cmddb.Database) {
	s.db = db
}

// Excluded reports whether name contains any exclusion substring.
func (s *Selector) Excluded(name string) bool {
	return IsExcluded(name, s.exclude)
}

// IsExcluded reports whether name contains any of the case-sensitive substrings.
func IsExcluded(name string, exclude []string) bool {
	for _, pattern := range exclude {
		if pattern != "" && strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// Eligible returns the enumeration entries that survive the exclusions,
// ordered by name.
func (s *Selector) Eligible() []enum.Entry {
	all := s.idx.Commands()
	out := make([]enum.Entry, 0, len(all))
	for _, e := range all {
		if !s.Excluded(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// Resolve attaches the database descriptor to an enumeration entry. Commands
// missing from the database get a zero-parameter descriptor.
func (s *Selector) Resolve(e enum.Entry) Selection {
	if d, ok := s.db.Get(e.Name); ok {
		return Selection{Name: e.Name, Code: e.Code, Descriptor: d, InDatabase: true}
	}
	return Selection{Name: e.Name, Code: e.Code, Descriptor: cmddb.Synthetic(e.Name, e.Code)}
}

// SelectOne picks one eligible command. An explicit name that is excluded or
// absent yields ErrCommandNotFound; an empty eligible set yields
// ErrNoCommandsAvailable.
func (s *Selector) SelectOne(req Request) (Selection, error) {
	eligible := s.Eligible()
	if len(eligible) == 0 {
		return Selection{}, fmt.Errorf("select command: %w", fuzzerrors.ErrNoCommandsAvailable)
	}

	if req.Seed != nil {
		s.rnd.Seed(*req.Seed)
	}

	if req.Name != "" {
		for _, e := range eligible {
			if e.Name == req.Name {
				return s.Resolve(e), nil
			}
		}
		return Selection{}, fmt.Errorf("select command %q: %w", req.Name, fuzzerrors.ErrCommandNotFound)
	}

	return s.Resolve(eligible[s.rnd.IntN(len(eligible))]), nil
}
