package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/cardrag/cmd/cardrag-cli/ui"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/evaluation"
)

var (
	evalCasesPath string
	evalWorkers   int
	evalShowAll   bool
	evalTimeout   time.Duration
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run the retrieval evaluation suite",
	Long: `eval runs every case of a YAML suite through the search service and checks
the expected route and the must-have and must-not-have document ids. The
command fails when any case fails.`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalCasesPath, "cases", "configs/eval_cases.yaml", "YAML suite file")
	evalCmd.Flags().IntVarP(&evalWorkers, "workers", "w", 4, "concurrent cases")
	evalCmd.Flags().BoolVar(&evalShowAll, "show-all", false, "print passing cases too")
	evalCmd.Flags().DurationVar(&evalTimeout, "timeout", 10*time.Minute, "overall timeout")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	cases, err := evaluation.LoadCases(evalCasesPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), evalTimeout)
	defer cancel()

	c, err := loadComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var onDone func(evaluation.Outcome)
	var bar *ui.ProgressBar
	if !jsonOutput {
		bar = ui.NewProgressBar(int64(len(cases)), "Evaluating")
		onDone = func(evaluation.Outcome) { bar.Add(1) }
	}

	report, err := evaluation.NewRunner(c.Service, evalWorkers, c.Logger).Run(ctx, cases, onDone)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d cases failed", report.Failed, report.Total)
	}
	return nil
}

func printReport(report *evaluation.Report) {
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		if o.Passed && !evalShowAll {
			continue
		}
		detail := o.Error
		if detail == "" {
			var parts []string
			if !o.RouteOK {
				parts = append(parts, fmt.Sprintf("route=%s want=%s", o.Route, o.Case.ExpectRoute))
			}
			if len(o.Missing) > 0 {
				parts = append(parts, "missing="+strings.Join(o.Missing, ","))
			}
			if len(o.Forbidden) > 0 {
				parts = append(parts, "forbidden="+strings.Join(o.Forbidden, ","))
			}
			detail = strings.Join(parts, " ")
		}
		rows = append(rows, []string{o.Case.ID, ui.PassFail(o.Passed), ui.Truncate(o.Case.Query, 30), detail})
		ui.Debug("%s docs=%v", o.Case.ID, o.DocIDs)
	}

	if len(rows) > 0 {
		ui.Section("Cases")
		ui.Table([]string{"ID", "RESULT", "QUERY", "DETAIL"}, rows)
	}

	ui.Section("Summary")
	ui.KeyValue("total", fmt.Sprint(report.Total))
	ui.KeyValue("passed", fmt.Sprint(report.Passed))
	ui.KeyValue("failed", fmt.Sprint(report.Failed))
	ui.KeyValue("duration", report.Duration.Round(time.Millisecond).String())
	if report.Failed == 0 {
		ui.Success("All cases passed")
	} else {
		ui.Error("Failed: %s", strings.Join(report.FailedIDs(), ", "))
	}
}
