// lload is an LDAP load balancer. It accepts LDAP clients, multiplexes
// their operations over pooled connections to a set of backend directory
// servers and routes every reply back to the client that asked.
//
// Usage:
//
//	# Run the balancer
//	lload serve --config /etc/lload/lload.yaml
//
//	# Validate a configuration file
//	lload check --config lload.yaml
//
//	# Mint an admin API token
//	lload token --config lload.yaml --subject ops --ttl 1h
package main

import (
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns an exit code.
// This is separated from main() to facilitate testing.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}
