package main

import (
	"fmt"
	"os"

	"github.com/alfredjeanlab/panels/internal/idgen"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/spf13/cobra"
)

var mapCmd = &cobra.Command{
	Use:     "map",
	Short:   "Manage icons placed on map widgets",
	GroupID: "widgets",
}

var mapIconAddCmd = &cobra.Command{
	Use:   "add-icon <map-id> <lat> <lng>",
	Short: "Place an icon on a map",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ll, err := parseFloats(args[1], args[2])
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			if id, err = idgen.Icon(); err != nil {
				return err
			}
		}
		name, _ := cmd.Flags().GetString("name")
		icon, _ := cmd.Flags().GetString("icon")

		c, err := panelsClient.AddMapIcon(cmd.Context(), args[0], model.MapIcon{
			ID:   id,
			Name: name,
			Icon: icon,
			Lat:  ll[0],
			Lng:  ll[1],
		})
		if err != nil {
			return fmt.Errorf("adding icon: %w", err)
		}
		if jsonOutput {
			printJSON(c)
			return nil
		}
		fmt.Printf("Added icon %s to %s\n", id, c.ID)
		return nil
	},
}

var mapIconRemoveCmd = &cobra.Command{
	Use:   "remove-icon <map-id> <icon-id>",
	Short: "Remove an icon from a map",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := panelsClient.RemoveMapIcon(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("removing icon: %w", err)
		}
		if jsonOutput {
			printJSON(c)
			return nil
		}
		printComponent(os.Stdout, c)
		return nil
	},
}

func init() {
	mapIconAddCmd.Flags().String("id", "", "icon id (generated when empty)")
	mapIconAddCmd.Flags().String("name", "", "label shown next to the icon")
	mapIconAddCmd.Flags().String("icon", "", "icon name")

	mapCmd.AddCommand(mapIconAddCmd)
	mapCmd.AddCommand(mapIconRemoveCmd)
}
