package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/dataset"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// MergeCmd concatenates the segment files into the final dataset
var MergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge segment files into the final dataset",
	Long: `Concatenate every <dataset.dir>/<dataset.prefix><start>.csv in numeric
start order into <dataset.dir>/<dataset.final> with a single header.
Unreadable segment files are logged and skipped.

Examples:
  ontogen merge
  ontogen merge --shuffle --seed 42   # Also write <final>_shuffled.csv`,
	RunE: runMergeCmd,
}

var (
	mergeShuffle bool
	mergeSeed    int64
)

func init() {
	MergeCmd.Flags().BoolVar(&mergeShuffle, "shuffle", false, "Also write a shuffled copy of the merged dataset")
	MergeCmd.Flags().Int64Var(&mergeSeed, "seed", 42, "Seed for --shuffle")
}

func runMergeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	log := logger.Logger.Named("merge")

	res, err := dataset.Merge(cfg.Dataset.Dir, cfg.Dataset.Prefix, cfg.FinalFile(), log)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Merged %d rows from %d files into %s\n", res.Rows, res.Files, res.Output)
	if res.Skipped > 0 {
		pterm.Warning.Printf("Skipped %d unreadable files\n", res.Skipped)
	}

	if mergeShuffle {
		out, err := dataset.Shuffle(res.Output, mergeSeed)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Shuffled copy written to %s\n", out)
	}
	return nil
}
