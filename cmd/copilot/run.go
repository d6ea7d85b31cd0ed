package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/copilot/internal/app"
	"github.com/rendis/copilot/internal/batch"
	"github.com/rendis/copilot/internal/scheduler"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		in, out  string
		schedule string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Answer a JSONL file of questions",
		Long: `Answers every question of --in and writes one answer per line to --out.

With --schedule (or the schedule setting) the batch is rerun on a cron
expression until interrupted.`,
		Example: `  copilot run --in sample_questions.jsonl --out outputs.jsonl
  copilot run --in questions.jsonl --out outputs.jsonl --schedule "0 6 * * *"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("schedule") {
				schedule = c.cfg.Schedule
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []batch.Option
			opts = append(opts, batch.WithLogger(c.logger))
			if !quiet {
				opts = append(opts, batch.WithObserver(progressObserver(cmd.ErrOrStderr())))
			}
			runner := batch.NewRunner(a.Engine, a.Validator, opts...)

			job := func(ctx context.Context) error {
				return runBatch(ctx, cmd.OutOrStdout(), runner, in, out)
			}
			if schedule == "" {
				return job(cmd.Context())
			}
			return scheduler.New(c.logger).Run(cmd.Context(), schedule, job)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "questions JSONL")
	cmd.Flags().StringVar(&out, "out", "outputs.jsonl", "answers JSONL")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression for recurring runs")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print node progress")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func runBatch(ctx context.Context, w io.Writer, runner *batch.Runner, in, out string) error {
	sum, err := runner.RunFiles(ctx, in, out)
	fmt.Fprintf(w, "Answered %d of %d questions (%d skipped) in %s -> %s\n",
		sum.Answered, sum.Total, sum.Skipped, sum.Duration.Round(time.Millisecond), out)
	return err
}

// progressObserver prints one line per finished node.
func progressObserver(w io.Writer) batch.ObserverFunc {
	return func(q schema.Question) workflow.Observer {
		fmt.Fprintf(w, "Processing %s: %s\n", q.ID, q.Question)
		return func(node workflow.NodeID, _ workflow.Update) {
			fmt.Fprintf(w, "  ↳ Finished Node: %s\n", node)
		}
	}
}

func newAskCmd(c *cli) *cobra.Command {
	var (
		format  string
		id      string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:     "ask QUESTION",
		Short:   "Answer one question and print the answer record",
		Example: `  copilot ask "Top 3 products by revenue all-time" --format "list[{product:str, revenue:float}]"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return ask(cmd.Context(), a, cmd, schema.Question{ID: id, Question: args[0], FormatHint: format}, verbose)
		},
	}
	cmd.Flags().StringVar(&format, "format", "str", "format hint of the answer")
	cmd.Flags().StringVar(&id, "id", "cli", "question id")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print node progress")
	return cmd
}

func ask(ctx context.Context, a *app.App, cmd *cobra.Command, q schema.Question, verbose bool) error {
	if res := a.Validator.ValidateQuestion(mustJSON(q)); !res.Valid() {
		return res.ToError()
	}

	var obs workflow.Observer
	if verbose {
		obs = progressObserver(cmd.ErrOrStderr())(q)
	}
	res, err := a.Engine.Run(ctx, q, obs)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res.Answer())
}
