package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erazemk/scanfleet/internal/auth"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage scanner users",
	}
	cmd.AddCommand(newUserAddCmd(a), newUserListCmd(a))
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var (
		capabilities []string
		maxScanners  int
		password     string
	)

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a scanner user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := model.ParseCapabilities(capabilities)
			if err != nil {
				return err
			}
			if !caps.Any() {
				return fmt.Errorf("at least one --capability is required (valid: %s)", strings.Join(model.CapabilityNames(), ", "))
			}
			if maxScanners <= 0 {
				return fmt.Errorf("--max-scanners must be positive")
			}

			generated := password == ""
			if generated {
				if password, err = generatePassword(16); err != nil {
					return fmt.Errorf("generating password: %w", err)
				}
			} else if err := model.ValidatePassword(password); err != nil {
				return err
			}

			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			u, err := store.CreateScannerUser(cmd.Context(), d, args[0], hash, caps, maxScanners)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanner user %s created (id %d, up to %d scanners).\n", u.Username, u.ID, u.MaxScanners)
			if generated {
				fmt.Fprintf(out, "  Password: %s\n", password)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&capabilities, "capability", nil,
		"capability to grant, repeatable ("+strings.Join(model.CapabilityNames(), ", ")+")")
	cmd.Flags().IntVar(&maxScanners, "max-scanners", 5, "how many scanners the user may register")
	cmd.Flags().StringVar(&password, "password", "", "password (generated when empty)")
	return cmd
}

func newUserListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scanner users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			users, err := store.ListScannerUsers(cmd.Context(), d)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range users {
				state := "active"
				if u.Disabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "%d\t%s\t%s\tmax=%d\tcaps=%d\n", u.ID, u.Username, state, u.MaxScanners, u.Capabilities.Bits())
			}
			return nil
		},
	}
}
