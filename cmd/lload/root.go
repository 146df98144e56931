package main

import (
	"io"

	"github.com/spf13/cobra"
)

const defaultConfigFile = "lload.yaml"

// newRootCmd builds the command tree. Output goes to stdout and stderr so
// tests can capture it.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "lload",
		Short: "lload - LDAP load balancer",
		Long: `lload accepts LDAP clients and spreads their operations over pooled
connections to a set of backend directory servers.

Clients may bind with their own identity: the balancer either pins the
client to a dedicated backend connection or verifies the credentials
on its behalf and keeps sharing connections.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file path")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newCheckCmd(&cfgFile),
		newTokenCmd(&cfgFile),
		newVersionCmd(),
	)
	return root
}
