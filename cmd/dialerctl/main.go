package main

import (
	"fmt"
	"os"

	"dialer-platform/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dialerctl",
		Short:         "Operator tooling for the outbound dialer",
		Long:          "dialerctl manages the dialer database, contacts and operator API tokens.\nIt reads the same environment (and .env file) as the api process.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newContactsCmd())
	return cmd
}

// loadConfig reads .env when present, then the environment.
func loadConfig() (config.Config, error) {
	_ = godotenv.Load()
	return config.Load()
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
