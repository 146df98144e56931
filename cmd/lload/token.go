package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/lload/internal/admin"
)

func newTokenCmd(cfgFile *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API bearer token",
		Long: `Sign a token for the admin API with the jwtSecret of the configuration
file. The token is printed on stdout.

Examples:
  lload token --subject ops
  lload token --config /etc/lload/lload.yaml --subject deploy --ttl 15m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}

			cfg, err := loadAndValidate(*cfgFile)
			if err != nil {
				return err
			}
			if cfg.Admin.JWTSecret == "" {
				return errors.New("admin.jwtSecret is not configured")
			}

			auth := admin.NewAuthenticator(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenTTL)
			token, err := auth.GenerateToken(subject, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to admin.tokenTTL)")
	return cmd
}
