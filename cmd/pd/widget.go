package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/alfredjeanlab/panels/internal/idgen"
	"github.com/alfredjeanlab/panels/internal/live"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/registry"
	"github.com/alfredjeanlab/panels/internal/widget"
	"github.com/spf13/cobra"
)

func parseKind(s string) (model.Kind, error) {
	k := model.Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("unknown component type %q (one of %v)", s, model.Kinds())
	}
	return k, nil
}

// widgetRef splits "[type] <id> <trailing args...>". The type may be left
// out when the id carries a kind prefix such as "gr-".
func widgetRef(args []string, trailing int) (model.Kind, string, []string, error) {
	switch len(args) - trailing {
	case 1:
		kind, ok := idgen.KindOf(args[0])
		if !ok {
			return "", "", nil, fmt.Errorf("cannot tell the type of %q; pass it as the first argument", args[0])
		}
		return kind, args[0], args[1:], nil
	case 2:
		kind, err := parseKind(args[0])
		if err != nil {
			return "", "", nil, err
		}
		return kind, args[1], args[2:], nil
	}
	return "", "", nil, fmt.Errorf("expected [type] <id> and %d more arguments", trailing)
}

func refArgs(trailing int) cobra.PositionalArgs {
	return cobra.RangeArgs(trailing+1, trailing+2)
}

func parseFloats(args ...string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = f
	}
	return out, nil
}

// mountWidget mounts one component through a fresh registry so geometry and
// removal follow the same rules a dashboard does.
func mountWidget(ctx context.Context, kind model.Kind, id string) (*widget.Widget, error) {
	deps := widget.Deps{
		Registry: registry.NewSet(panelsClient),
		Buffer:   live.NewBuffer(live.DefaultCapacity),
	}
	return widget.Mount(ctx, deps, kind, id)
}

var widgetCmd = &cobra.Command{
	Use:     "widget",
	Aliases: []string{"w"},
	Short:   "Create, inspect and arrange widgets",
	GroupID: "widgets",
}

var widgetListCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "List widgets of one type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		comps, err := panelsClient.ListComponents(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("listing %s: %w", kind, err)
		}
		if jsonOutput {
			printJSON(comps)
			return nil
		}
		printComponentList(os.Stdout, comps)
		return nil
	},
}

var widgetTypesCmd = &cobra.Command{
	Use:   "types [type]",
	Short: "Describe the fields each widget type accepts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schemas, err := panelsClient.Types(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing types: %w", err)
		}
		if len(args) == 1 {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			schemas = slices.DeleteFunc(schemas, func(s model.KindSchema) bool { return s.Type != kind })
		}
		if jsonOutput {
			printJSON(schemas)
			return nil
		}
		printSchemas(os.Stdout, schemas)
		return nil
	},
}

var widgetShowCmd = &cobra.Command{
	Use:   "show [type] <id>",
	Short: "Show one widget",
	Args:  refArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, _, err := widgetRef(args, 0)
		if err != nil {
			return err
		}
		c, err := panelsClient.GetComponent(cmd.Context(), kind, id)
		if err != nil {
			return fmt.Errorf("getting %s %s: %w", kind, id, err)
		}
		if jsonOutput {
			printJSON(c)
			return nil
		}
		printComponent(os.Stdout, c)
		return nil
	},
}

var widgetCreateCmd = &cobra.Command{
	Use:   "create <type>",
	Short: "Create a widget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		x, _ := cmd.Flags().GetFloat64("x")
		y, _ := cmd.Flags().GetFloat64("y")
		width, _ := cmd.Flags().GetFloat64("width")
		height, _ := cmd.Flags().GetFloat64("height")
		pairs, _ := cmd.Flags().GetStringArray("field")

		fields, err := parseFields(pairs)
		if err != nil {
			return err
		}

		reg := registry.New(kind, panelsClient)
		id, err := reg.Create(cmd.Context(), &client.CreateComponentRequest{
			Name:     name,
			Position: model.Position{X: x, Y: y},
			Size:     model.Size{Width: width, Height: height},
			Fields:   fields,
		})
		if err != nil {
			return err
		}
		c, _ := reg.Get(id)
		if jsonOutput {
			printJSON(c)
			return nil
		}
		fmt.Printf("Created %s %s\n", kind, id)
		return nil
	},
}

var widgetUpdateCmd = &cobra.Command{
	Use:   "update [type] <id>",
	Short: "Rename a widget or change its fields",
	Args:  refArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, _, err := widgetRef(args, 0)
		if err != nil {
			return err
		}
		req := &client.UpdateComponentRequest{}
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			req.Name = &name
		}
		pairs, _ := cmd.Flags().GetStringArray("field")
		if req.Fields, err = parseFieldMap(pairs); err != nil {
			return err
		}
		if req.Name == nil && req.Fields == nil {
			return fmt.Errorf("nothing to update (use --name or --field)")
		}

		c, err := registry.New(kind, panelsClient).Update(cmd.Context(), id, req)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(c)
			return nil
		}
		printComponent(os.Stdout, c)
		return nil
	},
}

var widgetMoveCmd = &cobra.Command{
	Use:   "move [type] <id> <x> <y>",
	Short: "Move a widget on its dashboard grid",
	Args:  refArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, rest, err := widgetRef(args, 2)
		if err != nil {
			return err
		}
		xy, err := parseFloats(rest...)
		if err != nil {
			return err
		}
		w, err := mountWidget(cmd.Context(), kind, id)
		if err != nil {
			return err
		}
		defer w.Unmount()
		if err := w.DragStop(cmd.Context(), model.Position{X: xy[0], Y: xy[1]}); err != nil {
			return err
		}
		return reportView(w.View())
	},
}

var widgetResizeCmd = &cobra.Command{
	Use:   "resize [type] <id> <width> <height>",
	Short: "Resize a widget",
	Args:  refArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, rest, err := widgetRef(args, 2)
		if err != nil {
			return err
		}
		wh, err := parseFloats(rest...)
		if err != nil {
			return err
		}
		w, err := mountWidget(cmd.Context(), kind, id)
		if err != nil {
			return err
		}
		defer w.Unmount()
		if err := w.ResizeStop(cmd.Context(), model.Size{Width: wh[0], Height: wh[1]}); err != nil {
			return err
		}
		return reportView(w.View())
	},
}

var widgetDeleteCmd = &cobra.Command{
	Use:     "delete [type] <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a widget and detach it from every dashboard",
	Args:    refArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, _, err := widgetRef(args, 0)
		if err != nil {
			return err
		}
		w, err := mountWidget(cmd.Context(), kind, id)
		if err != nil {
			return err
		}
		defer w.Unmount()
		if err := w.Remove(cmd.Context()); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"deleted": id})
			return nil
		}
		fmt.Printf("Deleted %s %s\n", kind, id)
		return nil
	},
}

func reportView(v widget.View) error {
	if jsonOutput {
		printJSON(v.Component)
		return nil
	}
	printComponent(os.Stdout, &v.Component)
	return nil
}

func init() {
	widgetCreateCmd.Flags().String("name", "", "display name")
	widgetCreateCmd.Flags().Float64("x", 0, "grid x position")
	widgetCreateCmd.Flags().Float64("y", 0, "grid y position")
	widgetCreateCmd.Flags().Float64("width", 0, "width")
	widgetCreateCmd.Flags().Float64("height", 0, "height")
	widgetCreateCmd.Flags().StringArray("field", nil, "type-specific field as key=value (repeatable)")

	widgetUpdateCmd.Flags().String("name", "", "new display name")
	widgetUpdateCmd.Flags().StringArray("field", nil, "field as key=value; key=null removes it (repeatable)")

	widgetCmd.AddCommand(widgetTypesCmd)
	widgetCmd.AddCommand(widgetListCmd)
	widgetCmd.AddCommand(widgetShowCmd)
	widgetCmd.AddCommand(widgetCreateCmd)
	widgetCmd.AddCommand(widgetUpdateCmd)
	widgetCmd.AddCommand(widgetMoveCmd)
	widgetCmd.AddCommand(widgetResizeCmd)
	widgetCmd.AddCommand(widgetDeleteCmd)
}
