package main

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/erazemk/scanfleet/internal/auth"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

func newInitCmd(a *app) *cobra.Command {
	var adminUser string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the schema and the first admin operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			existing, err := store.GetOperatorByUsername(cmd.Context(), d, adminUser)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("operator %q already exists", adminUser)
			}

			password, err := generatePassword(16)
			if err != nil {
				return fmt.Errorf("generating password: %w", err)
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			if _, err := store.CreateOperator(cmd.Context(), d, adminUser, hash, model.RoleAdmin); err != nil {
				return fmt.Errorf("creating admin operator: %w", err)
			}

			printInitResult(cmd, a.cfg.DBDSN, adminUser, password)
			return nil
		},
	}

	cmd.Flags().StringVarP(&adminUser, "user", "u", "Admin", "admin operator username")
	return cmd
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(cmd *cobra.Command, dsn, username, password string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database ready: %s\n", dsn)
	fmt.Fprintln(out, "Schema initialized.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Admin operator created:")
	fmt.Fprintf(out, "  Username: %s\n", username)
	fmt.Fprintf(out, "  Password: %s\n", password)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Save this password, it cannot be recovered.")
	fmt.Fprintln(out, "The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
