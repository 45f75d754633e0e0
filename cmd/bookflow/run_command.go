package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/bookflow-go/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jobID string
	var title string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "run <input-file>",
		Short: "Transform a document as a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			source, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			if jobID == "" {
				jobID = uuid.NewString()
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
			}

			return ctx.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				fmt.Fprintf(cmd.OutOrStdout(), "job %s started\n", jobID)
				state, report, err := p.Run(cmd.Context(), jobID, title, string(source))
				if err != nil {
					return fmt.Errorf("job %s: %w (resume with: bookflow resume %s)", jobID, err, jobID)
				}
				if err := writeOutput(state, outputPath); err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Job ID (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "Document title (defaults to the input file name)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the transformed document to this file")

	return cmd
}
