package model

// Kind identifies a widget type. Each kind is stored as its own collection and
// served under /api/{kind}.
type Kind string

const (
	KindChats       Kind = "chats"
	KindGraphs      Kind = "graphs"
	KindMaps        Kind = "maps"
	KindTexts       Kind = "texts"
	KindImages      Kind = "images"
	KindVideos      Kind = "videos"
	KindWebpages    Kind = "webpages"
	KindDatasources Kind = "datasources"
)

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindChats, KindGraphs, KindMaps, KindTexts,
		KindImages, KindVideos, KindWebpages, KindDatasources,
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k Kind) IsValid() bool {
	switch k {
	case KindChats, KindGraphs, KindMaps, KindTexts,
		KindImages, KindVideos, KindWebpages, KindDatasources:
		return true
	}
	return false
}

// IDPrefix returns the prefix used for generated component IDs of this kind.
func (k Kind) IDPrefix() string {
	switch k {
	case KindChats:
		return "ch-"
	case KindGraphs:
		return "gr-"
	case KindMaps:
		return "mp-"
	case KindTexts:
		return "tx-"
	case KindImages:
		return "im-"
	case KindVideos:
		return "vd-"
	case KindWebpages:
		return "wp-"
	case KindDatasources:
		return "ds-"
	}
	return "pn-"
}

// LiveType identifies a stream of live events.
type LiveType string

const (
	LiveChats       LiveType = "chats"
	LiveDatasources LiveType = "datasources"
)

// String returns the string representation of the live type.
func (t LiveType) String() string {
	return string(t)
}

// IsValid checks whether the live type is a known value.
func (t LiveType) IsValid() bool {
	switch t {
	case LiveChats, LiveDatasources:
		return true
	}
	return false
}
