package hls

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Segment is one media segment entry of a playlist.
type Segment struct {
	URI      string
	Duration time.Duration
}

// Playlist represents authoritative metadata derived from a media playlist.
type Playlist struct {
	TargetDuration time.Duration
	MediaSequence  int64
	Segments       []Segment
	TotalDuration  time.Duration
	Ended          bool // Derived from #EXT-X-ENDLIST or #EXT-X-PLAYLIST-TYPE:VOD
}

// PollInterval returns how long a consumer should wait before refetching a
// live playlist. Half the target duration, clamped to a sane floor.
func (p *Playlist) PollInterval() time.Duration {
	iv := p.TargetDuration / 2
	if iv < 500*time.Millisecond {
		iv = 500 * time.Millisecond
	}
	return iv
}

// Parse extracts segment and timing metadata from a media playlist.
// It implements strict guards:
// 1. The header tag must be present
// 2. EXTINF durations must parse
// 3. A playlist without segments and without an end marker is a stall candidate
func Parse(playlist string) (*Playlist, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	out := &Playlist{}

	var (
		nextDuration time.Duration
		sawHeader    bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "#EXTM3U" {
			sawHeader = true
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD") || line == "#EXT-X-ENDLIST" {
			out.Ended = true
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-TARGETDURATION:") {
			raw := strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")
			secs, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid target duration: %s", raw)
			}
			out.TargetDuration = time.Duration(secs * float64(time.Second))
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:") {
			raw := strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")
			seq, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid media sequence: %s", raw)
			}
			out.MediaSequence = seq
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			// Format: #EXTINF:10.000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			continue
		}

		// URI line (start of a segment)
		if !strings.HasPrefix(line, "#") {
			out.Segments = append(out.Segments, Segment{URI: line, Duration: nextDuration})
			out.TotalDuration += nextDuration
			nextDuration = 0
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !sawHeader {
		return nil, fmt.Errorf("not a media playlist: missing #EXTM3U header")
	}
	if len(out.Segments) == 0 && !out.Ended {
		return nil, fmt.Errorf("live playlist contains no segments")
	}

	return out, nil
}
