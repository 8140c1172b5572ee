// Package campaign runs every eligible command once against a target and
// tallies the outcomes.
package campaign

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/c2afuzz/c2afuzz/internal/backend"
	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/enum"
	"github.com/c2afuzz/c2afuzz/internal/metrics"
	"github.com/c2afuzz/c2afuzz/internal/params"
	"github.com/c2afuzz/c2afuzz/internal/selector"
)

// Options tune a run. The zero value fuzzes every enumerated command in
// realtime mode with random values.
type Options struct {
	Strategy    params.Strategy
	Exclude     []string
	MaxCommands int // 0 means no limit
	Mode        backend.Mode
	SkipDanger  bool
	Only        []string // wildcard include patterns, applied after Exclude
}

// Failure is one command whose outcome was neither SUC nor PRM.
type Failure struct {
	Name   string         `json:"name"`
	Code   uint32         `json:"code"`
	Params []params.Param `json:"params"`
	Result backend.Result `json:"result"`
}

// Report summarises a run.
type Report struct {
	ID       string                 `json:"id"`
	Strategy params.Strategy        `json:"strategy"`
	Mode     backend.Mode           `json:"mode"`
	Started  time.Time              `json:"started"`
	Finished time.Time              `json:"finished"`
	Tested   int                    `json:"tested"`
	Tally    map[backend.Result]int `json:"tally"`
	Failures []Failure              `json:"failures"`
}

// Runner drives a campaign through a dispatcher.
type Runner struct {
	db         *cmddb.Database
	idx        *enum.Index
	dispatcher *backend.Dispatcher
	rnd        *params.Rand
	out        io.Writer
}

// NewRunner returns a runner. Progress lines go to out; a nil rnd is seeded
// from the clock.
func NewRunner(db *cmddb.Database, idx *enum.Index, dispatcher *backend.Dispatcher, rnd *params.Rand, out io.Writer) *Runner {
	if rnd == nil {
		rnd = params.NewTimeRand()
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{db: db, idx: idx, dispatcher: dispatcher, rnd: rnd, out: out}
}

// RunAll dispatches every eligible command once, in name order. A backend
// failure on one command is tallied as ERR and the run continues. Only
// cancellation of ctx ends a run early; the partial report is returned with
// the context error.
func (r *Runner) RunAll(ctx context.Context, opts Options) (*Report, error) {
	if !opts.Strategy.Valid() {
		opts.Strategy = params.StrategyRandom
	}
	if opts.Mode == "" {
		opts.Mode = backend.ModeRealtime
	}

	sel := selector.New(r.db, r.idx, opts.Exclude, r.rnd)
	gen := params.NewGenerator(opts.Strategy, r.rnd)
	targets := included(sel.Eligible(), opts.Only)
	if opts.MaxCommands > 0 && len(targets) > opts.MaxCommands {
		targets = targets[:opts.MaxCommands]
	}

	report := &Report{
		ID:       ulid.Make().String(),
		Strategy: opts.Strategy,
		Mode:     opts.Mode,
		Started:  time.Now(),
		Tally:    make(map[backend.Result]int),
		Failures: []Failure{},
	}
	label := strings.ToUpper(string(opts.Mode))

	log.Info().
		Str("run_id", report.ID).
		Str("strategy", string(opts.Strategy)).
		Str("mode", string(opts.Mode)).
		Int("commands", len(targets)).
		Msg("Starting fuzz campaign")
	fmt.Fprintf(r.out, "\n=== %s command fuzzing (strategy: %s) ===\n", label, opts.Strategy)

	var runErr error
	for _, entry := range targets {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		s := sel.Resolve(entry)
		ps := gen.ForDescriptor(s.Descriptor)

		var result backend.Result
		if opts.SkipDanger && s.Descriptor.Danger {
			fmt.Fprintf(r.out, "Skipping %s: %s (0x%04X) is flagged dangerous\n", label, s.Name, s.Code)
			result = backend.ResultSkipped
		} else {
			fmt.Fprintf(r.out, "Testing %s: %s (0x%04X) with params: %s\n", label, s.Name, s.Code, params.FormatList(ps))
			var err error
			result, err = r.dispatcher.Dispatch(ctx, opts.Mode, s.Name, s.Code, ps)
			if err != nil {
				fmt.Fprintf(r.out, "Error sending %s: %v\n", s.Name, err)
			}
		}
		fmt.Fprintf(r.out, "  Result: %s\n", result)

		report.record(s, ps, result)
		metrics.RecordCampaignResult(string(result))
	}

	report.Finished = time.Now()
	log.Info().
		Str("run_id", report.ID).
		Int("tested", report.Tested).
		Int("failed", len(report.Failures)).
		Dur("duration", report.Finished.Sub(report.Started)).
		Msg("Fuzz campaign finished")
	return report, runErr
}

func (rep *Report) record(s selector.Selection, ps []params.Param, result backend.Result) {
	rep.Tested++
	rep.Tally[result]++
	if result.Failed() {
		rep.Failures = append(rep.Failures, Failure{Name: s.Name, Code: s.Code, Params: ps, Result: result})
	}
}

func included(entries []enum.Entry, only []string) []enum.Entry {
	if len(only) == 0 {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if MatchAny(e.Name, only) {
			out = append(out, e)
		}
	}
	return out
}

// MatchAny reports whether name matches any wildcard pattern. Empty patterns
// are ignored.
func MatchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && wildcard.Match(p, name) {
			return true
		}
	}
	return false
}

// Tags returns the tallied tags: the known tags first in their usual order,
// then any other tag the target reported, alphabetically.
func (rep *Report) Tags() []backend.Result {
	var tags []backend.Result
	seen := make(map[backend.Result]bool, len(rep.Tally))
	for _, r := range backend.Results {
		seen[r] = true
		if rep.Tally[r] > 0 {
			tags = append(tags, r)
		}
	}
	var extra []backend.Result
	for r, n := range rep.Tally {
		if !seen[r] && n > 0 {
			extra = append(extra, r)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(tags, extra...)
}

// WriteSummary prints the totals and the failure list.
func (rep *Report) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "\n=== Fuzzing summary ===\n")
	fmt.Fprintf(w, "Total commands tested: %d\n", rep.Tested)
	for _, tag := range rep.Tags() {
		fmt.Fprintf(w, "  %s: %d\n", tag, rep.Tally[tag])
	}
	if len(rep.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\n=== Failed commands ===\n")
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  %s (0x%04X): %s\n", f.Name, f.Code, f.Result)
	}
}

// WriteJSON writes the report as one indented JSON document.
func (rep *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
