package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agentreplay/internal/config"
	"github.com/capitalize-ai/agentreplay/pkg/logger"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "agentreplay",
		Short: "Record, replay and diff AI agent execution traces",
		Long: `agentreplay works on trace files written by the recorder: one JSON
header line followed by one line per top-level span.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newShowCmd(a),
		newInfoCmd(a),
		newValidateCmd(a),
		newExportCmd(a),
		newReplayCmd(a),
		newDiffCmd(a),
		newRecordCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	var log *logger.Logger
	if cfg.Development() {
		log, err = logger.NewDevelopment(cfg.LogLevel)
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(log)

	a.cfg = cfg
	a.log = log
	return nil
}
