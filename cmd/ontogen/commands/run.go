package commands

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/dataset"
	"github.com/teranos/ontogen/db"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/pulse"
	"github.com/teranos/ontogen/pulse/segment"
)

// RunCmd plans the segments and supervises one worker process per segment
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate the whole dataset with concurrent worker processes",
	Long: `Count the units of the ontology, cut them into segments and run one
worker process per segment, at most segments.max_concurrent at a time.

Worker output is re-logged as "Segment N OUT: ..." and "Segment N ERR: ...".
A worker that exits non-zero is reported and the run carries on.

Examples:
  ontogen run
  ontogen run --skip-completed        # Resume after an interrupted run
  ontogen run --merge                 # Merge segment files when done`,
	RunE: runRun,
}

var (
	runSkipCompleted bool
	runMerge         bool
	runJSON          bool
)

func init() {
	RunCmd.Flags().BoolVar(&runSkipCompleted, "skip-completed", false, "Skip segments whose latest recorded run completed (needs database.path)")
	RunCmd.Flags().BoolVar(&runMerge, "merge", false, "Merge segment files into the final dataset after the run")
	RunCmd.Flags().BoolVar(&runJSON, "json", false, "Emit progress as JSON lines on stdout")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if cfg.Generator.Provider == "openrouter" {
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}
	}
	log := logger.Logger.Named("segment")

	listing, err := ontology.LoadWithLogger(ctx, cfg.Ontology.Source, cfg.Ontology.CommentPrefix, log)
	if err != nil {
		return err
	}
	total := listing.Count()
	plan := segment.Plan(total, cfg.Segments.Size)
	log.Infow("Planned segments",
		logger.FieldTotalCount, total,
		logger.FieldCount, len(plan),
		logger.FieldSegmentSize, cfg.Segments.Size)

	launcher, err := segment.NewExecLauncher(cfg.Segments.WorkerCommand)
	if err != nil {
		return err
	}
	if cfg.Segments.WorkerCommand == "" {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			launcher.Argv = append(launcher.Argv, "--config", path)
		}
	}

	var progress pulse.ProgressEmitter = pulse.NewCLIEmitter(verbosity(cmd))
	if runJSON {
		progress = pulse.NewJSONEmitter(os.Stdout)
	}

	runCfg := segment.Config{
		MaxConcurrent:     cfg.Segments.MaxConcurrent,
		WavePause:         am.Millis(cfg.Segments.WavePauseMS),
		MemoryPerWorkerMB: cfg.Segments.MemoryPerWorkerMB,
		SkipCompleted:     runSkipCompleted || cfg.Segments.SkipCompleted,
		RunID:             uuid.NewString(),
	}
	opts := []segment.Option{segment.WithProgress(progress)}
	if cfg.Database.Path != "" {
		database, err := db.OpenWithMigrations(cfg.Database.Path, log)
		if err != nil {
			return err
		}
		defer database.Close()
		opts = append(opts, segment.WithStore(segment.NewStore(database)))
	} else if runCfg.SkipCompleted {
		log.Warnw("--skip-completed needs database.path; running every segment")
	}

	summary := segment.NewRunner(launcher, runCfg, log, opts...).Run(ctx, plan)
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "run interrupted")
	}

	if runMerge {
		res, err := dataset.Merge(cfg.Dataset.Dir, cfg.Dataset.Prefix, cfg.FinalFile(), log.Named("merge"))
		if err != nil {
			return err
		}
		progress.EmitInfo("Merged " + res.Output)
	}

	if summary.Failed > 0 {
		log.Warnw("Some segments failed; rerun with --skip-completed to retry them",
			"failed", summary.Failed)
	}
	return nil
}

func verbosity(cmd *cobra.Command) int {
	v, _ := cmd.Flags().GetCount("verbose")
	return v
}
