package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/monitor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

func newMonitorCmd(a *app) *cobra.Command {
	var name string
	var runID string
	var interval time.Duration
	var timeout time.Duration
	var output string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Follow a workflow run until it finishes",
		Long: "Follow a workflow run until it finishes\n" +
			"\n" +
			"Without --run-id the latest run of the workflow is followed. The exit\n" +
			"code is 0 if the run succeeded, 2 if the timeout was reached and 1\n" +
			"otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			if name == "" {
				return errors.New(errors.CodeInvalidInput, "--workflow is required")
			}

			ctx := cmd.Context()
			engine, err := a.workflowEngine(ctx)
			if err != nil {
				return err
			}

			opts := a.monitorOptions()
			if cmd.Flags().Changed("interval") {
				opts.Interval = interval
			}
			if cmd.Flags().Changed("timeout") {
				opts.Timeout = timeout
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			last, err := monitor.Wait(ctx, engine, workflow.Ref{Name: name, RunID: runID}, opts, func(s workflow.Snapshot) {
				if output == outputJSON {
					_ = enc.Encode(s)
					return
				}
				printSnapshot(out, s)
			})
			if err != nil {
				return err
			}

			switch last.Status {
			case workflow.StatusSucceeded:
				return nil
			case workflow.StatusTimedOut:
				return &exitError{code: 2}
			default:
				return &exitError{code: 1}
			}
		},
	}

	cmd.Flags().StringVarP(&name, "workflow", "w", "", "Workflow name")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run to follow (default: latest)")
	cmd.Flags().DurationVar(&interval, "interval", monitor.DefaultInterval, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text or json (one snapshot per line)")

	return cmd
}
