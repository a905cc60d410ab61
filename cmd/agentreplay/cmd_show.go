package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agentreplay/internal/export"
	"github.com/capitalize-ai/agentreplay/internal/store"
	"github.com/capitalize-ai/agentreplay/internal/viewer"
)

func newShowCmd(a *app) *cobra.Command {
	var asTree bool
	cmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print a trace with every span and event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := store.Load(args[0])
			if err != nil {
				return err
			}
			v := viewer.New(cmd.OutOrStdout())
			if asTree {
				v.Tree(t)
			} else {
				v.Trace(t)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asTree, "tree", false, "print only the span hierarchy")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "Print trace totals and event counts by type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := store.Load(args[0])
			if err != nil {
				return err
			}
			viewer.New(cmd.OutOrStdout()).Info(t)
			return nil
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a trace file parses and is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := store.Load(args[0])
			if err != nil {
				return err
			}
			if err := t.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%d spans, %d events)\n", args[0], t.SpanCount(), t.EventCount())
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Export a trace as a JSON document or an HTML timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			t, err := store.Load(args[0])
			if err != nil {
				return err
			}

			if output == "" {
				return export.Write(cmd.OutOrStdout(), f, t)
			}
			out, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()
			if err := export.Write(out, f, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatJSON), "export format: json or html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}
