package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/panels/internal/model"
)

// Source is the read side of the store that an export needs. store.Store
// satisfies it.
type Source interface {
	ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error)
	ListDashboards(ctx context.Context, owner string) ([]*model.Dashboard, error)
}

// header is the first JSONL record of an export.
type header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	DashboardCount int       `json:"dashboard_count"`
	ComponentCount int       `json:"component_count"`
	Digest         string    `json:"digest"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Snapshot is one JSONL export held in memory.
type Snapshot struct {
	Data       []byte
	Dashboards int
	Components int
	// Digest is the SHA-256 of every record after the header, so two
	// exports of unchanged data share a digest.
	Digest string
	Taken  time.Time
}

// WriteTo writes the JSONL export to w.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.Data)
	return int64(n), err
}

// Export reads every dashboard and component from src. Dashboards come
// first, sorted by ID; components follow grouped by kind and sorted by ID
// within each kind.
func Export(ctx context.Context, src Source) (*Snapshot, error) {
	dashboards, err := src.ListDashboards(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	sort.Slice(dashboards, func(i, j int) bool {
		return dashboards[i].ID < dashboards[j].ID
	})

	var components []*model.Component
	for _, kind := range model.Kinds() {
		list, err := src.ListComponents(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		components = append(components, list...)
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	for _, d := range dashboards {
		if err := enc.Encode(record{Type: "dashboard", Data: d}); err != nil {
			return nil, fmt.Errorf("encode dashboard %s: %w", d.ID, err)
		}
	}
	for _, c := range components {
		if err := enc.Encode(record{Type: "component", Data: c}); err != nil {
			return nil, fmt.Errorf("encode component %s: %w", c.ID, err)
		}
	}
	sum := sha256.Sum256(body.Bytes())

	snap := &Snapshot{
		Dashboards: len(dashboards),
		Components: len(components),
		Digest:     hex.EncodeToString(sum[:]),
		Taken:      time.Now().UTC(),
	}

	var out bytes.Buffer
	enc = json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{
		Version:        "1",
		Type:           "header",
		Timestamp:      snap.Taken,
		DashboardCount: snap.Dashboards,
		ComponentCount: snap.Components,
		Digest:         snap.Digest,
	}); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	out.Write(body.Bytes())
	snap.Data = out.Bytes()
	return snap, nil
}
