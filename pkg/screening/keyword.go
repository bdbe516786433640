package screening

import (
	"strings"
	"time"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

const tokenPunct = `,.;:()[]{}!?"'`

// tokenize lowercases, splits on whitespace, trims punctuation, and
// drops stop words. Returns a set.
func (l *Lexicon) tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, tokenPunct)
		if token == "" || l.isStopWord(token) {
			continue
		}
		tokens[token] = struct{}{}
	}
	return tokens
}

// MatchKeywords is the fallback matcher: criterion text against every
// record description. A record matches on full-phrase containment or on
// at least minOverlap shared significant tokens. Inclusions use a
// 2-token minimum, exclusions 3 to avoid false disqualification.
func (l *Lexicon) MatchKeywords(bundle *models.PatientBundle, keyword string, minOverlap int) bool {
	if keyword == "" {
		return false
	}
	phrase := strings.ToLower(keyword)
	keyTokens := l.tokenize(keyword)
	if len(keyTokens) < minOverlap {
		return false
	}

	matches := func(description string) bool {
		if description == "" {
			return false
		}
		lower := strings.ToLower(description)
		if strings.Contains(lower, phrase) {
			return true
		}
		// Intersect distinct tokens: a word repeated in the record must
		// count once.
		overlap := 0
		seen := make(map[string]struct{})
		for _, field := range strings.Fields(lower) {
			token := strings.Trim(field, tokenPunct)
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			if _, ok := keyTokens[token]; ok {
				overlap++
				if overlap >= minOverlap {
					return true
				}
			}
		}
		return false
	}

	for _, c := range bundle.Conditions {
		if matches(c.Description) {
			return true
		}
	}
	for _, m := range bundle.Medications {
		if matches(m.Description) {
			return true
		}
	}
	for _, o := range bundle.Observations {
		if matches(o.Description) {
			return true
		}
	}
	for _, a := range bundle.Allergies {
		if matches(a.Description) {
			return true
		}
	}
	for _, i := range bundle.Immunizations {
		if matches(i.Description) {
			return true
		}
	}
	return false
}

// findObservation returns the most recent observation whose description
// contains any of the search terms. Undated observations sort oldest.
func findObservation(observations []models.Observation, searchTerms []string) *models.Observation {
	var latest *models.Observation
	var latestDate time.Time
	for i := range observations {
		desc := strings.ToLower(observations[i].Description)
		hit := false
		for _, term := range searchTerms {
			if strings.Contains(desc, term) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		candidate := time.Time{}
		if observations[i].ObservationDate != nil {
			candidate = *observations[i].ObservationDate
		}
		if latest == nil || candidate.After(latestDate) {
			latest = &observations[i]
			latestDate = candidate
		}
	}
	return latest
}
