package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule restyles every match of re in cobra's plain help text.
type helpRule struct {
	re     *regexp.Regexp
	render func(groups []string) string
}

var helpRules = []helpRule{
	// Group and section headers ("Widgets:", "Flags:"); "Usage:" too.
	{
		re:     regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`),
		render: func(g []string) string { return ui.RenderAccent(strings.TrimSpace(g[0])) },
	},
	// Subcommand names in command listings.
	{
		re:     regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)(  )`),
		render: func(g []string) string { return g[1] + ui.RenderCommand(g[2]) + g[3] },
	},
	// Flag value types.
	{
		re:     regexp.MustCompile(`(--?\S+\s+)(string|int|float|float64|duration|stringSlice|stringArray)\b`),
		render: func(g []string) string { return g[1] + ui.RenderMuted(g[2]) },
	},
	{
		re:     regexp.MustCompile(`\(default [^)]*\)`),
		render: func(g []string) string { return ui.RenderMuted(g[0]) },
	},
	// Widget kinds mentioned in prose, e.g. "chats or datasources".
	{
		re:     kindPattern(),
		render: func(g []string) string { return ui.RenderKind(g[0]) },
	},
}

func kindPattern() *regexp.Regexp {
	names := make([]string, 0, len(model.Kinds()))
	for _, k := range model.Kinds() {
		names = append(names, regexp.QuoteMeta(string(k)))
	}
	return regexp.MustCompile(`\b(` + strings.Join(names, "|") + `)\b`)
}

// colorizedHelpFunc renders cobra's usage text and styles it when stdout
// takes color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor(os.Stdout) {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			return r.render(r.re.FindStringSubmatch(match))
		})
	}
	return s
}
