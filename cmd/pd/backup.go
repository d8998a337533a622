package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alfredjeanlab/panels/internal/config"
	panelsync "github.com/alfredjeanlab/panels/internal/sync"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	Short:   "Write every dashboard and component as JSONL",
	Long:    "Reads straight from the database named by PANELS_DATABASE_URL, the same export the sync scheduler uploads.",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// Talks to the database, not the HTTP API.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		var out io.Writer = os.Stdout
		if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		snap, err := panelsync.Export(ctx, st)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if _, err := snap.WriteTo(out); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d dashboards and %d components (%s)\n",
			snap.Dashboards, snap.Components, snap.Digest[:12])
		return nil
	},
}

func init() {
	backupCmd.Flags().StringP("output", "o", "-", "file to write (- for stdout)")
}
