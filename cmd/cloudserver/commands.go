package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres catalog schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema %q is up to date\n", cfg.DBSchema)
			return nil
		},
	}
}

// NewUsageCommand creates the usage command
func NewUsageCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "usage <principal-id>",
		Short: "Print a principal's storage usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid principal id %q: %w", args[0], err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := cfg.BuildService(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to build service: %w", err)
			}
			defer rt.Close()

			summary, err := rt.Service.UsageSummary(cmd.Context(), principal)
			if err != nil {
				return fmt.Errorf("usage lookup failed: %w", err)
			}
			return printUsage(cmd.OutOrStdout(), principal, summary, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printUsage(w io.Writer, principal uuid.UUID, summary *cloudstore.UsageSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			PrincipalID uuid.UUID `json:"principal_id"`
			*cloudstore.UsageSummary
			PercentUsed float64 `json:"percent_used"`
		}{principal, summary, summary.PercentUsed()})
	}

	fmt.Fprintf(w, "Principal: %s\n", principal)
	fmt.Fprintf(w, "Objects:   %d\n", summary.ObjectCount)
	fmt.Fprintf(w, "Used:      %d of %d bytes (%.1f%%)\n", summary.ConsumedBytes, summary.CeilingBytes, summary.PercentUsed())
	return nil
}
