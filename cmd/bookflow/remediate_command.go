package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/bookflow-go/pipeline"
)

func newRemediateCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "remediate <job-id>",
		Short: "Re-run the single remediation pass for gate-failed units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return ctx.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				state, report, err := p.RemediateJob(cmd.Context(), jobID)
				if errors.Is(err, pipeline.ErrNothingToRemediate) {
					fmt.Fprintf(cmd.OutOrStdout(), "job %s: nothing to remediate\n", jobID)
					printReport(cmd.OutOrStdout(), report)
					return nil
				}
				if err != nil {
					return fmt.Errorf("job %s: %w", jobID, err)
				}
				if err := writeOutput(state, outputPath); err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the transformed document to this file")

	return cmd
}
