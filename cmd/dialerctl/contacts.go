package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/storage"

	"github.com/spf13/cobra"
)

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage contacts",
	}
	cmd.AddCommand(newContactsAddCmd())
	return cmd
}

func newContactsAddCmd() *cobra.Command {
	var phone, name string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add one contact (phone in international +<digits> form)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, db, err := storage.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return runContactsAdd(cmd.Context(), cmd.OutOrStdout(), store, phone, name, time.Now())
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "phone number, e.g. +15551234567 (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

type contactCreator interface {
	CreateContact(ctx context.Context, c calls.Contact) (calls.Contact, error)
}

func runContactsAdd(ctx context.Context, out io.Writer, store contactCreator, phone, name string, now time.Time) error {
	c, err := calls.NewContact(phone, name, now)
	if err != nil {
		return err
	}
	created, err := store.CreateContact(ctx, c)
	if err != nil {
		return fmt.Errorf("contacts add: %w", err)
	}
	fmt.Fprintf(out, "%s\t%s\t%s\n", created.ID, created.PhoneNumber, created.Name)
	return nil
}
