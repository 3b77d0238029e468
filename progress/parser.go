// Package progress decodes the line-oriented progress protocol emitted by the
// external download and cut operations.
//
// Wire format: one JSON object per line, optionally preceded by arbitrary text
// written by the tool itself:
//
//	[download] {"status":"downloading","percent":42.5,"downloaded_bytes":1024,"total_bytes":4096,"speed":512.0,"eta":6}
//	{"status":"finished","filename":"/data/downloads/clip.mp4"}
//	{"status":"error","error":"HTTP Error 403: Forbidden"}
//
// Lines without a payload are plain log output and produce no event.
package progress

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type Kind string

const (
	KindDownloading Kind = "downloading"
	KindFinished    Kind = "finished"
	KindError       Kind = "error"
)

// Event is a decoded progress update. Only the fields relevant to Kind are set.
type Event struct {
	Kind            Kind    `json:"status"`
	Percent         float64 `json:"percent,omitempty"`
	DownloadedBytes int64   `json:"downloadedBytes,omitempty"`
	TotalBytes      int64   `json:"totalBytes,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	ETA             float64 `json:"eta,omitempty"`
	Path            string  `json:"path,omitempty"`
	Message         string  `json:"message,omitempty"`

	// Payload is the full decoded object as emitted by the tool.
	Payload map[string]any `json:"-"`
}

// Parse decodes at most one event from line. It never fails: lines that carry
// no payload, or a payload this package does not understand, yield ok=false.
func Parse(line string) (Event, bool) {
	payload, ok := ExtractPayload(line)
	if !ok {
		return Event{}, false
	}
	return FromPayload(payload)
}

// FromPayload maps an already extracted payload onto an Event.
func FromPayload(payload map[string]any) (Event, bool) {
	status, _ := payload["status"].(string)
	switch Kind(strings.ToLower(strings.TrimSpace(status))) {
	case KindDownloading:
		percent, ok := number(payload["percent"])
		if !ok {
			return Event{}, false
		}
		ev := Event{Kind: KindDownloading, Percent: percent, Payload: payload}
		if v, ok := number(payload["downloaded_bytes"]); ok {
			ev.DownloadedBytes = int64(v)
		}
		if v, ok := number(payload["total_bytes"]); ok {
			ev.TotalBytes = int64(v)
		}
		ev.Speed, _ = number(payload["speed"])
		ev.ETA, _ = number(payload["eta"])
		return ev, true
	case KindFinished:
		path := firstString(payload, "filename", "path")
		return Event{Kind: KindFinished, Path: path, Payload: payload}, true
	case KindError:
		msg := firstString(payload, "error", "message")
		return Event{Kind: KindError, Message: msg, Payload: payload}, true
	}
	return Event{}, false
}

// ExtractPayload locates the first well-formed JSON object embedded in line.
// Every '{' is tried in order; trailing text after the object is ignored.
func ExtractPayload(line string) (map[string]any, bool) {
	rest := line
	for {
		idx := strings.IndexByte(rest, '{')
		if idx < 0 {
			return nil, false
		}
		rest = rest[idx:]

		dec := json.NewDecoder(bytes.NewReader([]byte(rest)))
		dec.UseNumber()
		var payload map[string]any
		if err := dec.Decode(&payload); err == nil && payload != nil {
			return payload, true
		}
		rest = rest[1:]
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(n), "%")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
