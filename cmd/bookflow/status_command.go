package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/bookflow-go/pipeline"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's checkpointed progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return ctx.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				status, err := p.Status(cmd.Context(), jobID)
				if err != nil {
					return fmt.Errorf("job %s: %w", jobID, err)
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(status)
				}

				fmt.Fprintf(out, "job:      %s\n", status.JobID)
				fmt.Fprintf(out, "status:   %s\n", status.Status)
				fmt.Fprintf(out, "stage:    %s (checkpoint version %d)\n", status.Stage, status.Version)
				fmt.Fprintf(out, "next:     %s\n", status.Recommendation)
				if status.Report != nil {
					fmt.Fprintln(out, "units:")
					for _, u := range status.Report.Units {
						mark := "ok"
						if u.Degraded {
							mark = "degraded"
						}
						fmt.Fprintf(out, "  %-12s %-10s gate=%-18s %s\n", u.UnitID, u.Status, u.Gate, mark)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the status as JSON")

	return cmd
}
