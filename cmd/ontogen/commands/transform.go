package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/dataset"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// TransformCmd folds reasoning and parsed_output into one training target
var TransformCmd = &cobra.Command{
	Use:   "transform [input] [output]",
	Short: "Rewrite a dataset as query plus reasoned_parsed_output",
	Long: `Validate the reasoning and parsed_output columns of every row as one
parse-step reply and write query plus the canonical reasoned_parsed_output JSON.
Rows that do not validate keep an empty reasoned_parsed_output and are reported.

input defaults to the merged dataset, output to <input>_reasoned.csv.

Examples:
  ontogen transform
  ontogen transform datasets/parser_dataset_final_shuffled.csv`,
	Args: cobra.MaximumNArgs(2),
	RunE: runTransform,
}

func runTransform(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	in := cfg.FinalFile()
	if len(args) > 0 {
		in = args[0]
	}
	out := dataset.ReasonedPath(in)
	if len(args) > 1 {
		out = args[1]
	}

	res, err := dataset.Transform(in, out, logger.Logger.Named("transform"))
	if err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %d rows to %s\n", res.Rows, res.Output)
	if res.Invalid > 0 {
		pterm.Warning.Printf("%d rows did not validate and have an empty reasoned_parsed_output\n", res.Invalid)
	}
	return nil
}
