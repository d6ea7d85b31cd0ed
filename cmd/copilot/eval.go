package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/copilot/internal/eval"
	"github.com/rendis/copilot/internal/validation"
)

func newEvalCmd(c *cli) *cobra.Command {
	var (
		outputs, gold string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:     "eval",
		Short:   "Score an outputs file against gold answers",
		Example: `  copilot eval --outputs outputs.jsonl --gold gold.jsonl`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := validation.NewRecordValidator()
			if err != nil {
				return err
			}
			gf, err := os.Open(gold)
			if err != nil {
				return err
			}
			defer gf.Close()
			goldRecs, err := eval.ReadGold(gf, v)
			if err != nil {
				c.logger.Warn("some gold records were skipped", "error", err)
			}

			of, err := os.Open(outputs)
			if err != nil {
				return err
			}
			defer of.Close()
			answers, err := eval.ReadAnswers(of)
			if err != nil {
				c.logger.Warn("some answers were skipped", "error", err)
			}

			rep := eval.NewEvaluator().Evaluate(cmd.Context(), goldRecs, answers)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputs, "outputs", "outputs.jsonl", "answers JSONL")
	cmd.Flags().StringVar(&gold, "gold", "", "gold JSONL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("gold")
	return cmd
}

func printReport(w io.Writer, rep eval.Report) {
	for _, o := range rep.Outcomes {
		mark := "✓"
		if !o.Match {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %-28s expected=%v got=%v", mark, o.ID, o.Expected, o.Got)
		if o.Reason != "" && !o.Match {
			fmt.Fprintf(w, " (%s)", o.Reason)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nAccuracy: %.1f%% (%d/%d, %d missing)\n", rep.Accuracy*100, rep.Correct, rep.Total, rep.Missing)
}
