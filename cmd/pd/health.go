package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/alfredjeanlab/panels/internal/ui"
)

// probe is the outcome of one health check.
type probe struct {
	Endpoint string        `json:"endpoint"`
	Address  string        `json:"address"`
	Status   string        `json:"status"`
	Latency  time.Duration `json:"latency_ns"`
	Error    string        `json:"error,omitempty"`
}

func (p probe) ok() bool { return p.Error == "" && p.Status == "ok" }

func runProbe(ctx context.Context, endpoint, addr string, check func(context.Context) (string, error)) probe {
	start := time.Now()
	status, err := check(ctx)
	p := probe{Endpoint: endpoint, Address: addr, Status: status, Latency: time.Since(start)}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the REST API and, with --grpc, the LiveService",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		grpcAddr, _ := cmd.Flags().GetString("grpc")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		probes := []probe{{Endpoint: "rest", Address: panelsClient.BaseURL()}}
		if grpcAddr != "" {
			probes = append(probes, probe{Endpoint: "grpc", Address: grpcAddr})
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			probes[0] = runProbe(gctx, "rest", panelsClient.BaseURL(), panelsClient.Health)
			return nil
		})
		if grpcAddr != "" {
			g.Go(func() error {
				pub, err := client.NewGRPCPublisher(grpcAddr, token)
				if err != nil {
					probes[1].Error = err.Error()
					return nil
				}
				defer pub.Close()
				probes[1] = runProbe(gctx, "grpc", grpcAddr, pub.Health)
				return nil
			})
		}
		_ = g.Wait()

		if jsonOutput {
			printJSON(probes)
		} else {
			printProbes(os.Stdout, probes)
		}

		var errs []error
		for _, p := range probes {
			if !p.ok() {
				errs = append(errs, fmt.Errorf("%s unhealthy", p.Endpoint))
			}
		}
		return errors.Join(errs...)
	},
}

func printProbes(w io.Writer, probes []probe) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range probes {
		state := ui.RenderAccent(p.Status)
		if !p.ok() {
			state = ui.RenderWarn(p.Error)
			if p.Error == "" {
				state = ui.RenderWarn(p.Status)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Endpoint, p.Address, state,
			ui.RenderMuted(p.Latency.Round(time.Millisecond).String()))
	}
	tw.Flush()
}

func init() {
	healthCmd.Flags().String("grpc", "", "also probe the LiveService at this address")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "give up on a probe after this long")
}
