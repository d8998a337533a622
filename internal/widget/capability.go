package widget

import (
	"strings"

	"github.com/alfredjeanlab/panels/internal/model"
)

// Capability is a set of interactions a widget kind supports.
type Capability uint8

const (
	Resizable Capability = 1 << iota
	Draggable
	Removable
)

// Has reports whether every capability in want is present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(Resizable) {
		parts = append(parts, "resizable")
	}
	if c.Has(Draggable) {
		parts = append(parts, "draggable")
	}
	if c.Has(Removable) {
		parts = append(parts, "removable")
	}
	return strings.Join(parts, "|")
}

// CapabilitiesFor returns what a widget of kind may do on a dashboard.
// Datasources have no visual footprint, so they can only be removed.
func CapabilitiesFor(kind model.Kind) Capability {
	switch kind {
	case model.KindDatasources:
		return Removable
	case model.KindChats, model.KindGraphs, model.KindMaps, model.KindTexts,
		model.KindImages, model.KindVideos, model.KindWebpages:
		return Resizable | Draggable | Removable
	}
	return 0
}
