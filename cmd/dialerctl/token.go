package main

import (
	"fmt"
	"io"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/config"
	"dialer-platform/internal/rbac"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var user, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator API token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runToken(cmd.OutOrStdout(), cfg.Auth, user, role, time.Now())
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id carried in the token (required)")
	cmd.Flags().StringVar(&role, "role", rbac.RoleOperator, "role: admin, operator or viewer")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runToken(out io.Writer, cfg config.AuthConfig, user, role string, now time.Time) error {
	if user == "" {
		return fmt.Errorf("token: --user is required")
	}
	if !rbac.IsKnownRole(role) {
		return fmt.Errorf("token: unknown role %q", role)
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(now, user, role)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintf(out, "access_token:  %s\n", pair.AccessToken)
	fmt.Fprintf(out, "refresh_token: %s\n", pair.RefreshToken)
	return nil
}
