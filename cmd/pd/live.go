package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/alfredjeanlab/panels/internal/live"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/registry"
	"github.com/alfredjeanlab/panels/internal/ui"
	"github.com/alfredjeanlab/panels/internal/widget"
	"github.com/spf13/cobra"
)

func parseLiveType(s string) (model.LiveType, error) {
	t := model.LiveType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown live type %q (chats or datasources)", s)
	}
	return t, nil
}

// wsURL maps the server's HTTP base URL to its live socket endpoint.
func wsURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func newLiveManager(sender string) (*live.Manager, error) {
	endpoint, err := wsURL(serverURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return live.NewManager(live.ManagerOptions{
		URL:    endpoint,
		Header: header,
		Sender: sender,
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
}

var liveCmd = &cobra.Command{
	Use:     "live",
	Short:   "Send, watch and inspect live chat and datasource frames",
	GroupID: "live",
}

var liveSendCmd = &cobra.Command{
	Use:   "send <type> <data>",
	Short: "Send one frame over the live socket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseLiveType(args[0])
		if err != nil {
			return err
		}
		sender, _ := cmd.Flags().GetString("sender")
		target, _ := cmd.Flags().GetString("target")

		m, err := newLiveManager(sender)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := m.Connect(ctx); err != nil {
			return err
		}
		defer m.Disconnect()

		if !m.Send(t, target, rawOrString(args[1])) {
			return fmt.Errorf("live socket is not connected")
		}
		fmt.Printf("Sent %s frame as %s\n", t, m.Sender())
		return nil
	},
}

var livePublishCmd = &cobra.Command{
	Use:   "publish <type> <sender> <data>",
	Short: "Inject one frame through the gRPC LiveService",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseLiveType(args[0])
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("grpc")
		target, _ := cmd.Flags().GetString("target")
		raw, err := json.Marshal(rawOrString(args[2]))
		if err != nil {
			return fmt.Errorf("encoding data: %w", err)
		}

		pub, err := client.NewGRPCPublisher(addr, token)
		if err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.Publish(cmd.Context(), model.LiveEvent{
			Type:   t,
			Sender: args[1],
			Target: target,
			Data:   raw,
		}); err != nil {
			return fmt.Errorf("publishing: %w", err)
		}
		fmt.Printf("Published %s frame as %s\n", t, args[1])
		return nil
	},
}

var liveWatchCmd = &cobra.Command{
	Use:   "watch <type> [sender]",
	Short: "Stream live frames until interrupted",
	Long: `Stream live frames until interrupted.

With --widget [type/]id the frames a mounted widget would display are shown
instead: a chat's messages or the datasource feeding a graph.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		m, err := newLiveManager("")
		if err != nil {
			return err
		}
		if err := m.Connect(ctx); err != nil {
			return err
		}
		defer m.Disconnect()
		go reportStates(ctx, m)

		if ref, _ := cmd.Flags().GetString("widget"); ref != "" {
			return watchWidget(ctx, m, ref)
		}
		if len(args) == 0 {
			return fmt.Errorf("pass a live type or --widget")
		}
		t, err := parseLiveType(args[0])
		if err != nil {
			return err
		}
		sender := ""
		if len(args) == 2 {
			sender = args[1]
		}

		ch, cancel := m.Buffer().Watch(t, sender)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				if ev.IsClear() {
					fmt.Println(ui.RenderMuted("-- cleared --"))
					continue
				}
				emitEvent(ev, m.Sender())
			}
		}
	},
}

func emitEvent(ev model.LiveEvent, own string) {
	if jsonOutput {
		data, _ := json.Marshal(ev)
		fmt.Println(string(data))
		return
	}
	printLiveEvent(os.Stdout, ev, own)
}

func reportStates(ctx context.Context, m *live.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-m.StateChanges():
			style := ui.RenderWarn
			if s == live.StateConnected {
				style = ui.RenderMuted
			}
			fmt.Fprintln(os.Stderr, style("live: "+s.String()))
		}
	}
}

func watchWidget(ctx context.Context, m *live.Manager, ref string) error {
	parts := strings.SplitN(ref, "/", 2)
	kind, id, _, err := widgetRef(parts, 0)
	if err != nil {
		return fmt.Errorf("--widget %q: %w", ref, err)
	}
	w, err := widget.Mount(ctx, widget.Deps{Registry: registry.NewSet(panelsClient), Buffer: m.Buffer()}, kind, id)
	if err != nil {
		return err
	}
	defer w.Unmount()

	var last widget.View
	show := func(v widget.View) {
		fresh, cleared := v.Fresh(last)
		if cleared {
			fmt.Println(ui.RenderMuted("-- cleared --"))
		}
		for _, ev := range fresh {
			emitEvent(ev, m.Sender())
		}
		last = v
	}
	show(w.View())
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-w.Updates():
			if v.Removed {
				return fmt.Errorf("%s was deleted", ref)
			}
			show(v)
		}
	}
}

var liveSendersCmd = &cobra.Command{
	Use:   "senders <type>",
	Short: "List senders with recent frames",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseLiveType(args[0])
		if err != nil {
			return err
		}
		senders, err := panelsClient.LiveSenders(cmd.Context(), t)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(senders)
			return nil
		}
		for _, s := range senders {
			fmt.Println(s)
		}
		return nil
	},
}

var liveHistoryCmd = &cobra.Command{
	Use:   "history <type> <sender>",
	Short: "Show the recent frames from one sender",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseLiveType(args[0])
		if err != nil {
			return err
		}
		events, err := panelsClient.LiveHistory(cmd.Context(), t, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(events)
			return nil
		}
		for _, ev := range events {
			printLiveEvent(os.Stdout, ev, "")
		}
		return nil
	},
}

var liveClearCmd = &cobra.Command{
	Use:   "clear <type>",
	Short: "Drop every buffered frame of one type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseLiveType(args[0])
		if err != nil {
			return err
		}
		if err := panelsClient.ClearLive(cmd.Context(), t); err != nil {
			return err
		}
		fmt.Printf("Cleared %s\n", t)
		return nil
	},
}

var livePresenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Show who is connected to the live hub",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")
		target, _ := cmd.Flags().GetString("target")
		resp, err := panelsClient.Presence(cmd.Context(), stale, target)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		printPresence(os.Stdout, resp.Sockets, resp.Senders)
		return nil
	},
}

func defaultGRPCAddr() string {
	if s := os.Getenv("PANELS_GRPC"); s != "" {
		return s
	}
	if a := activeRemoteGRPCAddr(); a != "" {
		return a
	}
	return "localhost:9090"
}

func init() {
	liveSendCmd.Flags().String("sender", "", "sender identity (generated when empty)")
	liveSendCmd.Flags().String("target", "", "component the frame is addressed to, e.g. a chat id")

	livePublishCmd.Flags().String("grpc", defaultGRPCAddr(), "gRPC LiveService address")
	livePublishCmd.Flags().String("target", "", "component the frame is addressed to")

	liveWatchCmd.Flags().String("widget", "", "follow what a widget shows ([type/]id)")
	livePresenceCmd.Flags().Duration("stale", 0, "hide senders quiet for longer than this")
	livePresenceCmd.Flags().String("target", "", "only senders that recently addressed this widget")

	liveCmd.AddCommand(liveSendCmd)
	liveCmd.AddCommand(livePublishCmd)
	liveCmd.AddCommand(liveWatchCmd)
	liveCmd.AddCommand(liveSendersCmd)
	liveCmd.AddCommand(liveHistoryCmd)
	liveCmd.AddCommand(liveClearCmd)
	liveCmd.AddCommand(livePresenceCmd)
}
