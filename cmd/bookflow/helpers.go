package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/bookflow-go/flow"
	"github.com/dshills/bookflow-go/pipeline"
)

// writeOutput writes the assembled document to path, or to stdout when
// no path is given. A nil state or a job interrupted before packaging
// has no output yet; that is not an error here.
func writeOutput(state *flow.State, path string) error {
	if state == nil {
		return nil
	}
	output := state.GetString(pipeline.KeyOutput, "")
	if output == "" {
		return nil
	}
	if path == "" {
		fmt.Println(output)
		return nil
	}
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func printReport(w io.Writer, report flow.JobReport) {
	verdict := "all units passed"
	if !report.QualityPassed {
		verdict = fmt.Sprintf("%d degraded, %d omitted", len(report.Degraded), len(report.Omitted))
	}
	fmt.Fprintf(w, "job %s finished: %d units, %s\n", report.JobID, len(report.Units), verdict)
	for _, u := range report.Units {
		extra := ""
		if u.Fidelity > 0 {
			extra = fmt.Sprintf(" fidelity=%d", u.Fidelity)
		}
		fmt.Fprintf(w, "  %-12s %-10s gate=%s%s\n", u.UnitID, u.Status, u.Gate, extra)
	}
}
