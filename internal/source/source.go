package source

import (
	"sort"
	"strings"
)

// Protocol identifies the wire protocol of a candidate feed.
// The set is closed: anything the client cannot render maps to ProtocolUnsupported.
type Protocol string

const (
	ProtocolSegmented   Protocol = "segmented"
	ProtocolImage       Protocol = "image"
	ProtocolUnsupported Protocol = "unsupported"
)

// ParseProtocol canonicalizes upstream protocol labels into the closed set.
func ParseProtocol(raw string) Protocol {
	switch normalizeToken(raw) {
	case "segmented", "segmented-adaptive", "hls", "m3u8", "dash":
		return ProtocolSegmented
	case "image", "continuous-image", "mjpeg", "jpeg", "snapshot":
		return ProtocolImage
	default:
		return ProtocolUnsupported
	}
}

// Renderable reports whether a viable adapter exists for the protocol.
func (p Protocol) Renderable() bool {
	return p == ProtocolSegmented || p == ProtocolImage
}

// Source is a candidate video feed. Read-only from the controller's perspective.
type Source struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Protocol   Protocol `json:"protocol"`
	Confidence float64  `json:"confidence"`
	Active     bool     `json:"active"`
}

// Rank filters out inactive and unrenderable sources and orders the remainder
// by descending confidence. The sort is stable so equal-confidence sources keep
// their upstream order across fetches.
func Rank(sources []Source) []Source {
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if !s.Active || !s.Protocol.Renderable() {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
