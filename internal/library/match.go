package library

import (
	"cmp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/gapless/pkg/audio"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Match is one search hit.
type Match struct {
	Track audio.Track
	Score float64
}

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a field that
// shares a Double Metaphone code with the query. Default: 0.70.
func WithPhoneticThreshold(v float64) MatcherOption {
	return func(m *Matcher) { m.phonetic = v }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a field with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(v float64) MatcherOption {
	return func(m *Matcher) { m.fuzzy = v }
}

// Matcher ranks tracks against a free-text query. Substring hits on title,
// artist, album or file name score 1. Otherwise a field qualifies when it
// sounds like the query (Double Metaphone) and is close enough by
// Jaro-Winkler, or is very close by Jaro-Winkler alone.
//
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phonetic float64
	fuzzy    float64
}

// NewMatcher returns a [Matcher] with the default thresholds.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{phonetic: defaultPhoneticThreshold, fuzzy: defaultFuzzyThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Rank returns the tracks that match query, best first. Ties keep path
// order.
func (m *Matcher) Rank(query string, tracks []audio.Track) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	qTokens := strings.Fields(q)
	qCodes := metaphones(qTokens)

	var out []Match
	for _, t := range tracks {
		if s, ok := m.score(q, qTokens, qCodes, fields(t)); ok {
			out = append(out, Match{Track: t, Score: s})
		}
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Track.Path, b.Track.Path)
	})
	return out
}

func (m *Matcher) score(q string, qTokens []string, qCodes map[string]struct{}, hay []string) (float64, bool) {
	best, ok := 0.0, false
	for _, h := range hay {
		if h == "" {
			continue
		}
		if strings.Contains(h, q) {
			return 1, true
		}
		hTokens := strings.Fields(h)
		s := jaroWinkler(qTokens, hTokens, q, h)
		threshold := m.fuzzy
		if overlaps(qCodes, metaphones(hTokens)) {
			threshold = m.phonetic
		}
		if s >= threshold && s > best {
			best, ok = s, true
		}
	}
	return best, ok
}

// fields lists the searchable strings of t, lower-cased.
func fields(t audio.Track) []string {
	base := t.Path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	out := []string{t.Title, t.Album, base}
	if t.Artist != audio.UnknownArtist {
		out = append(out, t.Artist, t.Artist+" "+t.Title)
	}
	for i := range out {
		out[i] = strings.ToLower(strings.TrimSpace(out[i]))
	}
	return out
}

func metaphones(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// jaroWinkler takes the best of the full strings, the space-stripped
// strings, and every token pair.
func jaroWinkler(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false))
	}
	for _, x := range aTokens {
		for _, y := range bTokens {
			score = max(score, matchr.JaroWinkler(x, y, false))
		}
	}
	return score
}
