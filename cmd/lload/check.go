package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/lload/internal/config"
)

func newCheckCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		Long: `Load the configuration file, apply defaults and environment overrides,
and report every validation error.

Examples:
  lload check --config /etc/lload/lload.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAndValidate(*cfgFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration %s is valid\n", *cfgFile)
			fmt.Fprintf(out, "  Listeners: %d\n", len(cfg.Listeners))
			for _, b := range cfg.Backends {
				fmt.Fprintf(out, "  Backend %-16s %s (bind=%s, connections=%d)\n",
					b.Name, b.Address, b.BindStrategy, b.Connections)
			}
			return nil
		},
	}
}

// loadAndValidate loads the configuration file and reports the first
// validation error together with the number of errors found.
func loadAndValidate(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		if len(errs) == 1 {
			return nil, fmt.Errorf("invalid configuration: %w", errs[0])
		}
		return nil, fmt.Errorf("invalid configuration (%d errors): %w", len(errs), errs[0])
	}
	return cfg, nil
}
