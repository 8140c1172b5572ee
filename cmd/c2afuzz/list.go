package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/c2afuzz/c2afuzz/internal/campaign"
	"github.com/c2afuzz/c2afuzz/internal/selector"
)

// listEntry is one NDJSON line of `list --json`.
type listEntry struct {
	Name              string   `json:"name"`
	Code              uint32   `json:"code"`
	InDatabase        bool     `json:"in_db"`
	Excluded          bool     `json:"excluded,omitempty"`
	ParamTypes        []string `json:"param_types"`
	ParamDescriptions []string `json:"param_descriptions"`
	Description       string   `json:"description,omitempty"`
	Danger            bool     `json:"danger,omitempty"`
}

func newListCmd(c *cli) *cobra.Command {
	var (
		jsonOutput bool
		only       []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enumerated commands and their parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, idx, err := c.targets()
			if err != nil {
				return err
			}
			sel := selector.New(db, idx, c.cfg.Exclude, nil)

			var selections []selector.Selection
			for _, e := range idx.Commands() {
				if len(only) > 0 && !campaign.MatchAny(e.Name, only) {
					continue
				}
				selections = append(selections, sel.Resolve(e))
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeListJSON(out, sel, selections)
			}
			writeList(out, selections)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print one JSON object per command")
	cmd.Flags().StringSliceVar(&only, "only", nil, "Only list commands matching these wildcard patterns")
	return cmd
}

func writeList(w io.Writer, selections []selector.Selection) {
	fmt.Fprintf(w, "=== Commands (%d total) ===\n", len(selections))
	for _, s := range selections {
		if !s.InDatabase {
			fmt.Fprintf(w, "\n%s (0x%04X): [not in command DB]\n", s.Name, s.Code)
			continue
		}
		d := s.Descriptor
		fmt.Fprintf(w, "\n%s (0x%04X):\n", s.Name, s.Code)
		fmt.Fprintf(w, "  Params: %d\n", d.NumParams())
		if d.Description != "" {
			fmt.Fprintf(w, "  Description: %s\n", d.Description)
		}
		if d.Danger {
			fmt.Fprintf(w, "  [DANGER]\n")
		}
		for i, typ := range d.ParamTypes {
			desc := ""
			if i < len(d.ParamDescriptions) {
				desc = d.ParamDescriptions[i]
			}
			fmt.Fprintf(w, "    [%d] %s: %s\n", i, typ, desc)
		}
	}
}

func writeListJSON(w io.Writer, sel *selector.Selector, selections []selector.Selection) error {
	enc := json.NewEncoder(w)
	for _, s := range selections {
		d := s.Descriptor
		entry := listEntry{
			Name:              s.Name,
			Code:              s.Code,
			InDatabase:        s.InDatabase,
			Excluded:          sel.Excluded(s.Name),
			ParamTypes:        d.ParamTypes,
			ParamDescriptions: d.ParamDescriptions,
			Description:       d.Description,
			Danger:            d.Danger,
		}
		if entry.ParamTypes == nil {
			entry.ParamTypes = []string{}
		}
		if entry.ParamDescriptions == nil {
			entry.ParamDescriptions = []string{}
		}
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}
