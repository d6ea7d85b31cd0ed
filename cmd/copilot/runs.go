package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/copilot/internal/app"
	"github.com/rendis/copilot/internal/diagram"
	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/internal/workflow"
)

func newRunsCmd(c *cli) *cobra.Command {
	var (
		filter store.RunFilter
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the run store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			return c.withStore(cmd.Context(), func(st *store.LibSQLStore, _ *store.EventLog) error {
				runs, err := st.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&filter.Limit, "limit", 20, "maximum runs to list")
	f.StringVar(&filter.QuestionID, "question", "", "only runs of this question id")
	f.StringVar(&filter.Route, "route", "", "only runs on this route (rag, sql, hybrid)")
	f.StringVar(&filter.Status, "status", "", "only runs with this status")
	f.DurationVar(&since, "since", 0, "only runs started within this window, e.g. 24h")
	f.BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(newRunsShowCmd(c))
	return cmd
}

func newRunsShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print one run with the path it took",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(st *store.LibSQLStore, events *store.EventLog) error {
				run, err := st.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				visits, err := events.ReplayTrace(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), run); err != nil {
					return err
				}
				g, err := workflow.DefaultGraph()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), diagram.RenderASCII(diagram.Build(g, diagram.StepsFromVisits(visits))))
				return nil
			})
		},
	}
}

func (c *cli) withStore(ctx context.Context, fn func(*store.LibSQLStore, *store.EventLog) error) error {
	if c.cfg.StorePath == "" {
		return fmt.Errorf("run store is disabled (store_path is empty)")
	}
	st, events, err := app.OpenRunStore(ctx, c.cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st, events)
}

func printRuns(w io.Writer, runs []*store.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tQUESTION\tROUTE\tSTATUS\tREPAIRS\tCONFIDENCE\tDURATION\tSTARTED")
	for _, r := range runs {
		conf := "-"
		if r.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *r.Confidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.QuestionID, orDash(r.Route), r.Status, r.RepairSteps, conf,
			time.Duration(r.DurationMs)*time.Millisecond, r.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
