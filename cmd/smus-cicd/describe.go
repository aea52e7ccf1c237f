package main

import (
	"github.com/spf13/cobra"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/pipeline"
)

func newDescribeCmd(a *app) *cobra.Command {
	var manifestPath string
	var stages []string
	var output string
	cmd := &cobra.Command{
		Use:     "describe",
		Aliases: []string{"validate"},
		Short:   "Validate a manifest and show what deploy would do",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			m, err := manifest.LoadFile(manifestPath)
			if err != nil {
				return err
			}
			reg, err := a.offlineRegistry()
			if err != nil {
				return err
			}

			plan := pipeline.Describe(m, reg, stages)
			out := cmd.OutOrStdout()
			if output == outputJSON {
				err = writeJSON(out, plan)
			} else {
				err = printPlan(out, plan)
			}
			if err != nil {
				return err
			}
			if !plan.Valid() {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "manifest.yaml", "Path to the manifest")
	cmd.Flags().StringSliceVarP(&stages, "stages", "s", nil, "Stages to describe (default: all)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text or json")

	return cmd
}
