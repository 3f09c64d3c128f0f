package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ontogen/ai/tracker"
	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/db"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// UsageCmd summarizes generative service usage recorded by workers
var UsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded generative service usage",
	Long: `Summarize every attempt recorded in ai_model_usage since --since,
overall and per generation step. Needs database.path.

Examples:
  ontogen usage
  ontogen usage --since 2h --json`,
	RunE: runUsage,
}

var (
	usageSince time.Duration
	usageJSON  bool
)

func init() {
	UsageCmd.Flags().DurationVar(&usageSince, "since", 24*time.Hour, "Window to summarize")
	UsageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
}

type usageReport struct {
	Stats *tracker.UsageStats     `json:"stats"`
	Steps []tracker.StepBreakdown `json:"steps"`
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if cfg.Database.Path == "" {
		return errors.WithHint(errors.NewInvalidConfigError("database.path is not set"),
			"set database.path (or ONTOGEN_DATABASE_PATH) before running workers to record usage")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger.Named("db"))
	if err != nil {
		return err
	}
	defer database.Close()

	t := tracker.NewUsageTracker(database, tracker.Config{Logger: logger.Logger.Named("tracker")})
	since := time.Now().Add(-usageSince)
	stats, err := t.GetUsageStats(ctx, since)
	if err != nil {
		return err
	}
	steps, err := t.GetStepBreakdown(ctx, since)
	if err != nil {
		return err
	}

	if usageJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usageReport{Stats: stats, Steps: steps})
	}

	pterm.DefaultSection.Printf("Usage since %s", since.Format(time.RFC3339))
	pterm.Printf("Requests: %d (%.1f%% successful, %d timed out)\n",
		stats.TotalRequests, stats.SuccessRate*100, stats.TimedOutRequests)
	pterm.Printf("Tokens:   %d\n", stats.TotalTokens)
	pterm.Printf("Cost:     $%.4f\n", stats.TotalCost)

	if len(steps) == 0 {
		return nil
	}
	table := pterm.TableData{{"Step", "Attempts", "Successes", "Tokens", "Cost", "Avg ms"}}
	for _, s := range steps {
		table = append(table, []string{
			s.Step,
			fmt.Sprintf("%d", s.Attempts),
			fmt.Sprintf("%d", s.Successes),
			fmt.Sprintf("%d", s.TotalTokens),
			fmt.Sprintf("$%.4f", s.TotalCost),
			fmt.Sprintf("%.0f", s.AvgDurationMS),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
}
