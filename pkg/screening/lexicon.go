package screening

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the phrase lists the evaluators consult. The built-in
// defaults mirror the extraction agent's vocabulary; deployments can
// override them with a YAML file.
type Lexicon struct {
	VaguePhrases     []string `yaml:"vague_phrases"`
	SoftMarkers      []string `yaml:"soft_markers"`
	StopWords        []string `yaml:"stop_words"`
	NegationPrefixes []string `yaml:"negation_prefixes"`

	stopSet map[string]struct{}
}

func DefaultLexicon() *Lexicon {
	lex := &Lexicon{
		VaguePhrases: []string{
			"any other",
			"in the opinion of",
			"may interfere",
			"otherwise unsuitable",
			"clinically significant",
			"considered clinically",
			"investigator will review",
			"likely to interfere",
			"that in the opinion",
			"upon his/her medical judgment",
			"the investigator will review",
			"the investigator will decide",
			"upon his/her",
			"medical judgment will decide",
		},
		SoftMarkers: []string{"preferred", "relative", "soft"},
		StopWords: []string{
			"the", "a", "an", "at", "in", "of", "and", "or", "for", "with",
			"on", "is", "to", "be", "by", "that", "who", "had", "any", "must",
			"not", "no", "are", "were", "been", "has", "have", "may", "can",
			"will", "should", "other", "all", "their", "this", "from",
		},
		NegationPrefixes: []string{
			"no history of ",
			"no family history of ",
			"no medical history of ",
			"no ",
		},
	}
	lex.index()
	return lex
}

// LoadLexicon reads a YAML override file. Empty path or a missing file
// falls back to the defaults; a present list replaces the default list
// wholesale.
func LoadLexicon(path string) (*Lexicon, error) {
	lex := DefaultLexicon()
	if path == "" {
		return lex, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lex, nil
		}
		return nil, err
	}
	var override Lexicon
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, err
	}
	if len(override.VaguePhrases) > 0 {
		lex.VaguePhrases = override.VaguePhrases
	}
	if len(override.SoftMarkers) > 0 {
		lex.SoftMarkers = override.SoftMarkers
	}
	if len(override.StopWords) > 0 {
		lex.StopWords = override.StopWords
	}
	if len(override.NegationPrefixes) > 0 {
		lex.NegationPrefixes = override.NegationPrefixes
	}
	lex.index()
	return lex, nil
}

func (l *Lexicon) index() {
	l.stopSet = make(map[string]struct{}, len(l.StopWords))
	for _, w := range l.StopWords {
		l.stopSet[strings.ToLower(w)] = struct{}{}
	}
}

// IsVagueExclusion reports whether criterion text defers to investigator
// judgment. Such exclusions cannot be checked against records and are
// auto-passed.
func (l *Lexicon) IsVagueExclusion(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range l.VaguePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsSoftExclusion reports whether exclusion text marks itself as
// relative rather than absolute.
func (l *Lexicon) IsSoftExclusion(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range l.SoftMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (l *Lexicon) isStopWord(token string) bool {
	_, ok := l.stopSet[token]
	return ok
}

// StripNegation removes a leading negation prefix, longest match first,
// returning the remainder and whether a prefix was found.
func (l *Lexicon) StripNegation(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range l.NegationPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(lower[len(prefix):]), true
		}
	}
	return lower, false
}
