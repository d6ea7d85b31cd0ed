package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/copilot/internal/app"
	"github.com/rendis/copilot/internal/diagram"
	"github.com/rendis/copilot/internal/workflow"
)

func newDiagramCmd(c *cli) *cobra.Command {
	var (
		format string
		out    string
		runID  string
	)
	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Draw the workflow graph",
		Long: `Draws the workflow graph as mermaid, ASCII or PNG. With --run the path
taken by a stored run is overlaid on the graph.`,
		Example: `  copilot diagram --format ascii
  copilot diagram --format png --out workflow.png
  copilot diagram --format ascii --run 7f7c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := workflow.DefaultGraph()
			if err != nil {
				return err
			}
			var trace []workflow.Step
			if runID != "" {
				if trace, err = c.storedTrace(cmd.Context(), runID); err != nil {
					return err
				}
			}
			data, err := renderDiagram(cmd.Context(), diagram.Build(g, trace), format)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, data)
		},
	}
	cmd.Flags().StringVar(&format, "format", "mermaid", "mermaid, ascii or png")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&runID, "run", "", "overlay the trace of a stored run")
	return cmd
}

func renderDiagram(ctx context.Context, model *diagram.DiagramModel, format string) ([]byte, error) {
	switch format {
	case "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	case "ascii":
		return []byte(diagram.RenderASCII(model)), nil
	case "png":
		return diagram.RenderImage(ctx, model)
	default:
		return nil, fmt.Errorf("unknown diagram format %q (want mermaid, ascii or png)", format)
	}
}

// storedTrace replays the node visits of a stored run.
func (c *cli) storedTrace(ctx context.Context, runID string) ([]workflow.Step, error) {
	if c.cfg.StorePath == "" {
		return nil, fmt.Errorf("run store is disabled (store_path is empty)")
	}
	st, events, err := app.OpenRunStore(ctx, c.cfg.StorePath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	visits, err := events.ReplayTrace(ctx, runID)
	if err != nil {
		return nil, err
	}
	return diagram.StepsFromVisits(visits), nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "Diagram written to %s\n", path)
	return nil
}
