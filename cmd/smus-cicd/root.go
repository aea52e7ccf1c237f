package main

import (
	"github.com/spf13/cobra"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/config"
)

type globalFlags struct {
	configPath string
	region     string
	profile    string
	endpoint   string
	logLevel   string
}

func newRootCmd(a *app) *cobra.Command {
	var flags globalFlags
	cmd := &cobra.Command{
		Use:           "smus-cicd",
		Short:         "Deploy data and ML applications from a manifest",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg != nil {
				return nil
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if flags.region != "" {
				cfg.AWS.Region = flags.region
			}
			if flags.profile != "" {
				cfg.AWS.Profile = flags.profile
			}
			if flags.endpoint != "" {
				cfg.AWS.Endpoint = flags.endpoint
			}
			if flags.logLevel != "" {
				cfg.Log.Level = flags.logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			a.cfg = cfg
			a.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"Configuration file (default: $XDG_CONFIG_HOME/"+config.RelPath+")")
	cmd.PersistentFlags().StringVar(&flags.region, "region", "", "AWS region for stages that do not declare one")
	cmd.PersistentFlags().StringVar(&flags.profile, "profile", "", "AWS shared config profile")
	cmd.PersistentFlags().StringVar(&flags.endpoint, "endpoint", "", "Custom AWS endpoint, e.g. LocalStack")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	cmd.AddCommand(newDeployCmd(a))
	cmd.AddCommand(newDescribeCmd(a))
	cmd.AddCommand(newMonitorCmd(a))

	return cmd
}
