package delegation

import "regexp"

// Incident IDs are extracted from free-text requests with two heuristics,
// tried in order. This is best-effort: a miss disables deduplication for that
// request rather than blocking it.
var (
	// Explicit "Incident ID: ABC_123" / "incident_id=ABC_123" label.
	incidentLabelRe = regexp.MustCompile(`[Ii]ncident\s*[Ii][Dd][:=]\s*([A-Z0-9_-]+)`)

	// All-caps identifier with at least two underscore-separated segments,
	// e.g. RUSHIKONDA_FIRE_MEDICAL_001.
	incidentCapsRe = regexp.MustCompile(`\b([A-Z][A-Z0-9]*(?:_[A-Z0-9]+){2,})\b`)
)

// ExtractIncidentID returns the incident identifier found in text, or "" when
// neither heuristic matches.
func ExtractIncidentID(text string) string {
	if text == "" {
		return ""
	}
	if m := incidentLabelRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := incidentCapsRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
