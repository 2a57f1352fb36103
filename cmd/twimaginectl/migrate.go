package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every pending up migration from DATABASE_MIGRATIONS_DIR.

The API server also migrates on start; this command exists for deployments
that run migrations as a separate release step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.migrateUp(); err != nil {
				return err
			}
			return printVersion(cmd, a)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd, a)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, a *app) error {
	version, dirty, err := a.version()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if dirty {
		fmt.Fprintf(out, "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(out, "schema version %d\n", version)
	return nil
}
