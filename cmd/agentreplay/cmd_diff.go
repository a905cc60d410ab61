package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/agentreplay/internal/diff"
	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/store"
	"github.com/capitalize-ai/agentreplay/internal/viewer"
)

// errCriticalDivergence makes the process exit with status 2.
var errCriticalDivergence = errors.New("critical divergences found")

func newDiffCmd(a *app) *cobra.Command {
	var (
		asJSON         bool
		failOnCritical bool
	)
	cmd := &cobra.Command{
		Use:   "diff A B",
		Short: "Compare two traces and list where they diverge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ta, tb, err := loadPair(args[0], args[1])
			if err != nil {
				return err
			}
			result := diff.Traces(ta, tb)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("failed to encode diff: %w", err)
				}
			} else {
				viewer.New(cmd.OutOrStdout()).Diff(result)
			}

			if failOnCritical && result.Critical > 0 {
				return fmt.Errorf("%w: %d", errCriticalDivergence, result.Critical)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&failOnCritical, "fail-on-critical", false, "exit with status 2 when a critical divergence is found")
	return cmd
}

// loadPair reads both trace files concurrently.
func loadPair(pathA, pathB string) (*model.Trace, *model.Trace, error) {
	var ta, tb *model.Trace
	var g errgroup.Group
	g.Go(func() error {
		var err error
		ta, err = store.Load(pathA)
		return err
	})
	g.Go(func() error {
		var err error
		tb, err = store.Load(pathB)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ta, tb, nil
}
