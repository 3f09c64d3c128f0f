package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/cmd/ontogen/commands"
	"github.com/teranos/ontogen/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ontogen",
	Short: "ontogen - synthetic investment-query dataset generator",
	Long: `ontogen - synthetic investment-query dataset generator.

Walks an investment ontology and, for every (category, path) unit, asks a
generative text service for matching ontology combinations, user queries,
reasoning and a structured parse. Validated results are appended to per-segment
CSV files which are merged into one dataset.

Available commands:
  run     - Plan segments and run one worker process per segment
  worker  - Process the segment named by SEGMENT_START / SEGMENT_SIZE
  merge   - Merge segment files into the final dataset
  usage   - Show recorded generative service usage
  am      - Show and validate configuration
  version - Show build information

Examples:
  ontogen run                         # Generate the whole dataset
  SEGMENT_START=60 ontogen worker     # Process one segment in the foreground
  ontogen merge --shuffle --seed 7    # Merge and write a shuffled copy
  ontogen am show --format yaml       # Show effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			am.SetConfigFile(configPath)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")

		jsonLogs, level := false, "info"
		if cfg, err := am.Load(); err == nil {
			jsonLogs, level = cfg.Log.JSON, cfg.Log.Level
		}
		base, err := logger.ParseLevel(level)
		if err != nil {
			return err
		}
		if err := logger.Initialize(jsonLogs, logger.VerbosityToLevel(verbosity, base).String()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./ontogen.toml, then ~/.ontogen/ontogen.toml)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.MergeCmd)
	rootCmd.AddCommand(commands.TransformCmd)
	rootCmd.AddCommand(commands.UsageCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
