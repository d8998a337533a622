package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/presence"
	"github.com/alfredjeanlab/panels/internal/ui"
	"github.com/alfredjeanlab/panels/internal/widget"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printComponent(w io.Writer, c *model.Component) {
	fmt.Fprintf(w, "ID:          %s\n", ui.RenderAccent(c.ID))
	fmt.Fprintf(w, "Type:        %s\n", ui.RenderKind(string(c.Kind)))
	fmt.Fprintf(w, "Name:        %s\n", c.Name)
	fmt.Fprintf(w, "Position:    %g, %g\n", c.Position.X, c.Position.Y)
	fmt.Fprintf(w, "Size:        %g x %g\n", c.Size.Width, c.Size.Height)
	fmt.Fprintf(w, "Can:         %s\n", widget.CapabilitiesFor(c.Kind))
	if len(c.Fields) > 0 {
		fmt.Fprintf(w, "Fields:      %s\n", string(c.Fields))
	}
	if c.Kind == model.KindMaps {
		for _, icon := range model.MapIcons(c) {
			fmt.Fprintf(w, "Icon:        %s %s (%g, %g)\n", icon.ID, icon.Name, icon.Lat, icon.Lng)
		}
	}
	if c.CreatedBy != "" {
		fmt.Fprintf(w, "Created By:  %s\n", c.CreatedBy)
	}
	if !c.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", c.CreatedAt.Format(timeLayout))
	}
	if !c.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", c.UpdatedAt.Format(timeLayout))
	}
}

func printComponentList(w io.Writer, comps []*model.Component) {
	nameWidth := max(ui.Width(os.Stdout)/3, 20)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNAME\tPOSITION\tSIZE")
	for _, c := range comps {
		name := ui.Truncate(c.Name, nameWidth)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g,%g\t%gx%g\n",
			c.ID, c.Kind, name,
			c.Position.X, c.Position.Y,
			c.Size.Width, c.Size.Height,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d components\n", len(comps))
}

func printSchemas(w io.Writer, schemas []model.KindSchema) {
	for i, s := range schemas {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n", ui.RenderKind(string(s.Type)), ui.RenderMuted("("+s.IDPrefix+"...)"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, f := range s.Fields {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Name, f.Type, describeField(f))
		}
		tw.Flush()
	}
}

// describeField summarises the constraints on a field.
func describeField(f model.FieldDef) string {
	var parts []string
	if f.Required {
		parts = append(parts, "required")
	}
	if len(f.Values) > 0 {
		parts = append(parts, strings.Join(f.Values, "|"))
	}
	switch {
	case f.Min != nil && f.Max != nil:
		parts = append(parts, fmt.Sprintf("%g..%g", *f.Min, *f.Max))
	case f.Min != nil:
		parts = append(parts, fmt.Sprintf(">= %g", *f.Min))
	case f.Max != nil:
		parts = append(parts, fmt.Sprintf("<= %g", *f.Max))
	}
	return ui.RenderMuted(strings.Join(parts, ", "))
}

func printDashboard(w io.Writer, d *model.Dashboard) {
	fmt.Fprintf(w, "ID:          %s\n", ui.RenderAccent(d.ID))
	fmt.Fprintf(w, "Name:        %s\n", d.Name)
	fmt.Fprintf(w, "Path:        %s\n", d.Path)
	if d.Owner != "" {
		fmt.Fprintf(w, "Owner:       %s\n", d.Owner)
	}
	if len(d.Components) > 0 {
		refs := make([]string, 0, len(d.Components))
		for _, dc := range d.Components {
			refs = append(refs, string(dc.Type)+"/"+dc.ComponentID)
		}
		fmt.Fprintf(w, "Components:  %s\n", strings.Join(refs, ", "))
	}
	if !d.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", d.UpdatedAt.Format(timeLayout))
	}
}

func printDashboardList(w io.Writer, dashboards []*model.Dashboard) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tNAME\tCOMPONENTS\tOWNER")
	for _, d := range dashboards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Path, d.Name, len(d.Components), d.Owner)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d dashboards\n", len(dashboards))
}

// printLiveEvent writes one frame. own is the sender id of this client, if
// it has one, so its frames stand out.
func printLiveEvent(w io.Writer, ev model.LiveEvent, own string) {
	target := ""
	if ev.Target != "" {
		target = " -> " + ev.Target
	}
	fmt.Fprintf(w, "%s %s%s %s\n",
		ui.RenderMuted(ev.Timestamp.Local().Format(timeLayout)),
		ui.RenderSender(ev.Sender, own != "" && ev.Sender == own),
		target,
		string(ev.Data),
	)
}

func printPresence(w io.Writer, sockets int, entries []presence.Entry) {
	fmt.Fprintf(w, "%d sockets connected\n\n", sockets)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENDER\tSTATE\tLAST TYPE\tFRAMES\tQUIET\tTARGETS")
	for _, e := range entries {
		state := "connected"
		switch {
		case e.Idle:
			state = ui.RenderWarn("idle")
		case !e.Connected:
			state = ui.RenderMuted("gone")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0fs\t%s\n",
			e.Sender, state, ui.RenderKind(string(e.LastType)), e.Frames, e.IdleSecs, strings.Join(e.Targets, ","))
	}
	tw.Flush()
}
