package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/bookflow-go/pipeline"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume an interrupted job from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return ctx.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				state, report, err := p.Resume(cmd.Context(), jobID)
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
