// Package marker implements the Phase Marker Protocol: embedding and
// parsing structured phase-progress markers inside issue comment bodies.
// Adapted from the teacher's internal/ratchet/chain.go JSONL-append-and-scan
// idiom (a structured, timestamped event embedded in a larger text
// artifact) — here the artifact is a fetched comment body rather than a
// local chain file, and markers are embedded as HTML comments instead of
// JSONL lines.
package marker

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/sequant-dev/sequant/internal/phase"
)

// markerPrefix is the literal tag prefix every embedded marker uses.
const markerPrefix = "SEQUANT_PHASE"

// markerRegex finds `<!-- SEQUANT_PHASE: <json> -->` tags. It is applied
// only after fenced and inline code have been stripped from the body.
var markerRegex = regexp.MustCompile(`<!--\s*SEQUANT_PHASE:\s*(\{.*?\})\s*-->`)

// fencedCodeRegex matches triple-or-more backtick or tilde fenced blocks,
// including their contents, across multiple lines.
var fencedCodeRegex = regexp.MustCompile("(?s)(`{3,}|~{3,}).*?" + `(` + "`{3,}|~{3,}" + `)`)

// inlineCodeRegex matches single-backtick inline code spans.
var inlineCodeRegex = regexp.MustCompile("`[^`\n]*`")

// Format renders m as the exact embeddable comment-body tag.
func Format(m phase.PhaseMarker) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marker: marshal: %w", err)
	}
	return fmt.Sprintf("<!-- %s: %s -->", markerPrefix, data), nil
}

// stripCode removes fenced and inline code spans from body so markers
// embedded inside code examples are never mistaken for live ones.
func stripCode(body string) string {
	body = fencedCodeRegex.ReplaceAllString(body, "")
	body = inlineCodeRegex.ReplaceAllString(body, "")
	return body
}

// Parse extracts every well-formed marker from a single comment body, in
// scan order. Malformed JSON payloads are skipped rather than failing the
// whole parse (best-effort strategy per spec.md §9).
func Parse(body string) []phase.PhaseMarker {
	clean := stripCode(body)
	matches := markerRegex.FindAllStringSubmatch(clean, -1)
	out := make([]phase.PhaseMarker, 0, len(matches))
	for _, m := range matches {
		var pm phase.PhaseMarker
		if err := json.Unmarshal([]byte(m[1]), &pm); err != nil {
			continue
		}
		out = append(out, pm)
	}
	return out
}

// Comment holds one comment body. Timestamp ties are broken by the order of
// the comments slice, i.e. fetch (insertion) order (SPEC_FULL.md §9 Open
// Question 4).
type Comment struct {
	Body string
}

// taggedMarker carries a marker plus the scan sequence number it was found
// at, across all comments in fetch order.
type taggedMarker struct {
	marker phase.PhaseMarker
	seq    int
}

// collectAll parses every comment in order and returns every marker found,
// tagged with a global, strictly increasing sequence number.
func collectAll(comments []Comment) []taggedMarker {
	var all []taggedMarker
	seq := 0
	for _, c := range comments {
		for _, m := range Parse(c.Body) {
			all = append(all, taggedMarker{marker: m, seq: seq})
			seq++
		}
	}
	return all
}

// GetPhaseMap returns, for each phase that appears in comments, the marker
// with the maximum timestamp; ties are broken by insertion (scan) order —
// the later-encountered marker wins, matching the teacher's scan-dependent
// behavior made deterministic.
func GetPhaseMap(comments []Comment) map[phase.Phase]phase.PhaseMarker {
	all := collectAll(comments)
	best := make(map[phase.Phase]taggedMarker)
	for _, tm := range all {
		cur, ok := best[tm.marker.Phase]
		if !ok {
			best[tm.marker.Phase] = tm
			continue
		}
		if tm.marker.Timestamp.After(cur.marker.Timestamp) ||
			(tm.marker.Timestamp.Equal(cur.marker.Timestamp) && tm.seq > cur.seq) {
			best[tm.marker.Phase] = tm
		}
	}
	out := make(map[phase.Phase]phase.PhaseMarker, len(best))
	for p, tm := range best {
		out[p] = tm.marker
	}
	return out
}

// DetectPhaseFromComments returns the single overall latest marker across
// all phases, or false if there are none.
func DetectPhaseFromComments(comments []Comment) (phase.PhaseMarker, bool) {
	all := collectAll(comments)
	if len(all) == 0 {
		return phase.PhaseMarker{}, false
	}
	best := all[0]
	for _, tm := range all[1:] {
		if tm.marker.Timestamp.After(best.marker.Timestamp) ||
			(tm.marker.Timestamp.Equal(best.marker.Timestamp) && tm.seq > best.seq) {
			best = tm
		}
	}
	return best.marker, true
}

// GetResumablePhases drops phases from requested whose latest marker status
// is completed; phases whose latest marker is failed (or that have no
// marker at all) are kept, so a retry re-runs them.
func GetResumablePhases(requested []phase.Phase, comments []Comment) []phase.Phase {
	latest := GetPhaseMap(comments)
	out := make([]phase.Phase, 0, len(requested))
	for _, p := range requested {
		if m, ok := latest[p]; ok && m.Status == phase.PhaseCompleted {
			continue
		}
		out = append(out, p)
	}
	return out
}

