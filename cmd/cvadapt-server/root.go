package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cvadapt/internal/config"
	"cvadapt/internal/di"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

type rootOptions struct {
	configPath string
	output     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "cvadapt-server",
		Short:         "CV adaptation API with a credit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case outputText, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q", opts.output)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a cvadapt.yaml config file")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", outputText, "output format: text or yaml")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newCreditsCommand(opts))
	return root
}

// buildCLIContainer opens the configured store for one-shot commands. Metrics
// and tracing stay off and logs go to stderr.
func buildCLIContainer(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*di.Container, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Observability.Metrics.Enabled = false
	cfg.Observability.Tracing.Enabled = false
	if cfg.Observability.Logging.Level == "info" {
		cfg.Observability.Logging.Level = "warn"
	}
	return di.BuildContainer(ctx, cfg, di.WithLogOutput(cmd.ErrOrStderr()))
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
