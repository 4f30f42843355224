// ABOUTME: Area matcher scoring free text against area instructions and a domain lexicon
// ABOUTME: Used by manual "find best area" queries and by the CLI match command

package areas

import (
	"strings"

	"github.com/2389/prism-gateway/internal/store"
)

const (
	// TokenWeight is added for each query token found in the area instructions.
	TokenWeight = 0.2
	// KeywordWeight is added for each domain keyword found in the query.
	KeywordWeight = 0.3
	// AcceptThreshold is the score a best match must exceed.
	AcceptThreshold = 0.3
	// MinTokenLen drops short words ("de", "la") that would match almost anything.
	MinTokenLen = 3
)

// Matcher scores queries against areas. The zero value is not usable; use NewMatcher.
type Matcher struct {
	lexicon []Domain
}

// NewMatcher creates a matcher. A nil lexicon selects DefaultLexicon.
func NewMatcher(lexicon []Domain) *Matcher {
	if lexicon == nil {
		lexicon = DefaultLexicon
	}
	normalized := make([]Domain, len(lexicon))
	for i, d := range lexicon {
		kws := make([]string, len(d.Keywords))
		for j, kw := range d.Keywords {
			kws[j] = Normalize(kw)
		}
		normalized[i] = Domain{Fragment: Normalize(d.Fragment), Keywords: kws}
	}
	return &Matcher{lexicon: normalized}
}

// Score returns how well query fits area, in [0, 1].
func (m *Matcher) Score(query string, area *store.Area) float64 {
	q := Normalize(query)
	instructions := Normalize(area.Instructions)
	name := Normalize(area.Name)

	tokens := Tokens(q, MinTokenLen)

	score := 0.0
	for _, tok := range tokens {
		if strings.Contains(instructions, tok) {
			score += TokenWeight
		}
	}

	for _, d := range m.lexicon {
		if d.Fragment == "" || !strings.Contains(name, d.Fragment) {
			continue
		}
		for _, kw := range d.Keywords {
			if HasWord(tokens, kw) {
				score += KeywordWeight
			}
		}
	}

	return min(score, 1.0)
}

// BestMatch returns the highest scoring area whose score exceeds
// AcceptThreshold, or nil. Earlier areas win ties.
func (m *Matcher) BestMatch(query string, candidates []*store.Area) (*store.Area, float64) {
	var (
		best      *store.Area
		bestScore float64
	)
	for _, a := range candidates {
		if s := m.Score(query, a); s > bestScore {
			best, bestScore = a, s
		}
	}
	if best == nil || bestScore <= AcceptThreshold {
		return nil, bestScore
	}
	return best, bestScore
}
