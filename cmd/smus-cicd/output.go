package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/pipeline"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON:
		return nil
	default:
		return errors.Newf(errors.CodeInvalidInput, "output must be %q or %q, got %q", outputText, outputJSON, format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func describeError(d *errors.Detail) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("[%s] %s", d.Code, d.Message)
}

func printReport(w io.Writer, r *pipeline.Report) error {
	fmt.Fprintf(w, "Application: %s\n\n", r.Application)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tTARGET\tSTATUS\tFAILED PHASE\tERROR")
	for _, name := range r.Order {
		sr := r.Stage(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sr.Stage, sr.Target, sr.Status, sr.FailedPhase, describeError(sr.Error))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, name := range r.Order {
		sr := r.Stage(name)
		fmt.Fprintf(w, "\n%s:\n", sr.Stage)
		for _, p := range sr.Phases {
			fmt.Fprintf(w, "  %-20s %s\n", p.Phase, p.Status)
		}
		if sr.Bootstrap != nil {
			for _, res := range sr.Bootstrap.Results {
				label := res.Type
				if res.Name != "" {
					label += " (" + res.Name + ")"
				}
				fmt.Fprintf(w, "    action %d %-30s %s\n", res.Index, label, res.Status)
			}
		}
		for _, d := range sr.Diagnostics {
			fmt.Fprintf(w, "  warning: %s: %s %s\n", d.Phase, d.Message, describeError(d.Error))
		}
	}
	return nil
}

func printPlan(w io.Writer, p *pipeline.Plan) error {
	fmt.Fprintf(w, "Application: %s\n", p.Application)
	for _, st := range p.Stages {
		fmt.Fprintf(w, "\n%s (target %s)\n", st.Stage, st.Target)
		for _, ph := range st.Phases {
			state := "run"
			if !ph.Run {
				state = "skip"
			}
			fmt.Fprintf(w, "  %-20s %-4s %s\n", ph.Phase, state, strings.Join(ph.Items, ", "))
		}
	}
	if len(p.Diagnostics) > 0 {
		fmt.Fprintf(w, "\n%d problem(s):\n", len(p.Diagnostics))
		for _, d := range p.Diagnostics {
			fmt.Fprintf(w, "  %s [%s] %s\n", d.Path, d.Code, d.Message)
		}
	}
	return nil
}

func printSnapshot(w io.Writer, s workflow.Snapshot) {
	fmt.Fprintf(w, "#%d %s %s", s.Sequence, s.Time.Format("15:04:05"), s.Status)
	if s.Message != "" {
		fmt.Fprintf(w, " %s", s.Message)
	}
	fmt.Fprintln(w)
	if s.Log != "" {
		for _, line := range strings.Split(strings.TrimRight(s.Log, "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
