package main

import (
	"github.com/spf13/cobra"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
)

func newDeployCmd(a *app) *cobra.Command {
	var manifestPath string
	var stages []string
	var parallel bool
	var output string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a manifest to one or more stages",
		Long: "Deploy a manifest to one or more stages\n" +
			"\n" +
			"Each stage runs Initialization, ContentDeployment, WorkflowDeployment,\n" +
			"BootstrapExecution and EventEmission in order. A failing stage does not\n" +
			"stop the others. The exit code is 0 only if every stage succeeded.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			m, err := manifest.LoadFile(manifestPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := a.pipeline(ctx, parallel)
			if err != nil {
				return err
			}
			report, err := p.Deploy(ctx, m, stages)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == outputJSON {
				err = writeJSON(out, report)
			} else {
				err = printReport(out, report)
			}
			if err != nil {
				return err
			}
			if code := report.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "manifest.yaml", "Path to the manifest")
	cmd.Flags().StringSliceVarP(&stages, "stages", "s", nil, "Stages to deploy (default: all)")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Deploy stages concurrently")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text or json")

	return cmd
}
