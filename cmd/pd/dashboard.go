package main

import (
	"fmt"
	"os"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"db"},
	Short:   "Manage dashboards and the widgets placed on them",
	GroupID: "dashboards",
}

var dashboardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dashboards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mine, _ := cmd.Flags().GetBool("mine")
		list, err := panelsClient.ListDashboards(cmd.Context(), mine)
		if err != nil {
			return fmt.Errorf("listing dashboards: %w", err)
		}
		if jsonOutput {
			printJSON(list)
			return nil
		}
		printDashboardList(os.Stdout, list)
		return nil
	},
}

var dashboardShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a dashboard by id, or by path with --path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		ctx := cmd.Context()

		var (
			d   *model.Dashboard
			err error
		)
		switch {
		case path != "":
			d, err = panelsClient.GetDashboardByPath(ctx, path)
		case len(args) == 1:
			d, err = panelsClient.GetDashboard(ctx, args[0])
		default:
			return fmt.Errorf("pass a dashboard id or --path")
		}
		if err != nil {
			return fmt.Errorf("getting dashboard: %w", err)
		}
		if jsonOutput {
			printJSON(d)
			return nil
		}
		printDashboard(os.Stdout, d)
		return nil
	},
}

var dashboardCreateCmd = &cobra.Command{
	Use:   "create <name> <path>",
	Short: "Create a dashboard",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]
		d, err := panelsClient.CreateDashboard(cmd.Context(), &client.DashboardRequest{Name: &name, Path: &path})
		if err != nil {
			return fmt.Errorf("creating dashboard: %w", err)
		}
		if jsonOutput {
			printJSON(d)
			return nil
		}
		fmt.Printf("Created dashboard %s at /%s\n", d.ID, d.Path)
		return nil
	},
}

var dashboardUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Rename a dashboard or change its path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.DashboardRequest{}
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			req.Name = &name
		}
		if cmd.Flags().Changed("path") {
			path, _ := cmd.Flags().GetString("path")
			req.Path = &path
		}
		if req.Name == nil && req.Path == nil {
			return fmt.Errorf("nothing to update (use --name or --path)")
		}
		d, err := panelsClient.UpdateDashboard(cmd.Context(), args[0], req)
		if err != nil {
			return fmt.Errorf("updating dashboard: %w", err)
		}
		if jsonOutput {
			printJSON(d)
			return nil
		}
		printDashboard(os.Stdout, d)
		return nil
	},
}

var dashboardDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a dashboard (its widgets are kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panelsClient.DeleteDashboard(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("deleting dashboard: %w", err)
		}
		fmt.Printf("Deleted dashboard %s\n", args[0])
		return nil
	},
}

var dashboardAttachCmd = &cobra.Command{
	Use:   "attach <dashboard-id> <type> <component-id>",
	Short: "Place a widget on a dashboard",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[1])
		if err != nil {
			return err
		}
		d, err := panelsClient.AttachComponent(cmd.Context(), args[0], kind, args[2])
		if err != nil {
			return fmt.Errorf("attaching: %w", err)
		}
		if jsonOutput {
			printJSON(d)
			return nil
		}
		printDashboard(os.Stdout, d)
		return nil
	},
}

var dashboardDetachCmd = &cobra.Command{
	Use:   "detach <dashboard-id> <component-id>",
	Short: "Take a widget off a dashboard",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panelsClient.DetachComponent(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("detaching: %w", err)
		}
		fmt.Printf("Detached %s from %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	dashboardListCmd.Flags().Bool("mine", false, "only dashboards owned by the signed-in user")
	dashboardShowCmd.Flags().String("path", "", "look the dashboard up by path")
	dashboardUpdateCmd.Flags().String("name", "", "new name")
	dashboardUpdateCmd.Flags().String("path", "", "new path")

	dashboardCmd.AddCommand(dashboardListCmd)
	dashboardCmd.AddCommand(dashboardShowCmd)
	dashboardCmd.AddCommand(dashboardCreateCmd)
	dashboardCmd.AddCommand(dashboardUpdateCmd)
	dashboardCmd.AddCommand(dashboardDeleteCmd)
	dashboardCmd.AddCommand(dashboardAttachCmd)
	dashboardCmd.AddCommand(dashboardDetachCmd)
}
