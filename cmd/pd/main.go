package main

import (
	"os"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/alfredjeanlab/panels/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	token      string
	jsonOutput bool
	noColor    bool

	panelsClient *client.HTTPClient
)

func defaultServerURL() string {
	if s := os.Getenv("PANELS_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("PANELS_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:          "pd <command>",
	Short:        "CLI client for the Panels dashboard service",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.ForceNoColor()
		}
		panelsClient = client.NewHTTPClient(serverURL, token)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if panelsClient != nil {
			panelsClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "Panels server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "bearer token (JWT or service token)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "widgets", Title: "Widgets:"},
		&cobra.Group{ID: "dashboards", Title: "Dashboards:"},
		&cobra.Group{ID: "live", Title: "Live:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Widgets
	rootCmd.AddCommand(widgetCmd)
	rootCmd.AddCommand(mapCmd)

	// Dashboards
	rootCmd.AddCommand(dashboardCmd)

	// Live
	rootCmd.AddCommand(liveCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
