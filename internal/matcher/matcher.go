// Package matcher matches announcement text against user alerts.
package matcher

import (
	"strings"
	"time"

	"metro_alerts/internal/model"
)

// Match returns every alert the text satisfies, in input order.
// An alert matches when each of its present fields occurs in the text
// (case-insensitive substring); absent fields match anything.
func Match(text string, alerts []model.Alert) []model.Alert {
	lower := strings.ToLower(text)

	var matched []model.Alert
	for _, a := range alerts {
		if matches(lower, a) {
			matched = append(matched, a)
		}
	}
	return matched
}

// Matches reports whether a single alert matches text.
func Matches(text string, a model.Alert) bool {
	return matches(strings.ToLower(text), a)
}

func matches(lower string, a model.Alert) bool {
	if a.Route != nil && !contains(lower, *a.Route) {
		return false
	}
	if a.Direction != nil && !contains(lower, string(*a.Direction)) {
		return false
	}
	if a.Time != nil {
		found := false
		for _, v := range TimeVariations(*a.Time) {
			if contains(lower, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains(lower, value string) bool {
	return strings.Contains(lower, strings.ToLower(value))
}

// TimeVariations lists the spellings of a 24-hour HH:MM time that count as a
// match: the literal, the literal without its colon, and, when it differs,
// the 12-hour form without a leading zero plus that form without its colon.
// Unparseable input yields only the literal and its colon-stripped form.
func TimeVariations(t string) []string {
	variations := []string{t}
	add := func(v string) {
		for _, seen := range variations {
			if seen == v {
				return
			}
		}
		variations = append(variations, v)
	}

	add(strings.ReplaceAll(t, ":", ""))

	parsed, err := time.Parse(model.TimeLayout, t)
	if err != nil {
		return variations
	}
	short := parsed.Format("3:04")
	if short != t {
		add(short)
		add(strings.ReplaceAll(short, ":", ""))
	}
	return variations
}
