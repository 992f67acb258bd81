// Package app wires cobra commands for the gateway binary, mirroring the
// teacher's cmd/thv-proxyrunner/app/commands.go shape: a root command that
// initializes the structured logger in PersistentPreRun, and a configured
// subcommand doing the real work.
package app

import (
	"github.com/spf13/cobra"

	"github.com/georchestra/gateway/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "gateway",
	DisableAutoGenTag: true,
	Short:             "gateway is an authenticating reverse proxy for a geospatial platform",
	Long: `gateway terminates LDAP directory, OIDC/OAuth2, and trusted pre-auth
authentication, resolves a canonical user, enforces access rules, and
forwards requests to configured backend services with identity headers
projected onto the upstream request.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd builds the gateway binary's root command.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.SilenceUsage = true
	return rootCmd
}
