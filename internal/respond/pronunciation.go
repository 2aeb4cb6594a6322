package respond

import (
	"math"
	"strings"

	"github.com/antzucaro/matchr"
)

// Scorer estimates how closely a transcript matches a scenario's target
// phrases. It blends orthographic similarity (Jaro-Winkler) with phonetic
// similarity (Double Metaphone codes), so "I'd like a late" still scores
// well against "I'd like a latte".
type Scorer struct {
	// PhoneticWeight is the share of the score taken from phonetic
	// similarity, in [0,1]. The remainder comes from text similarity.
	// Zero means the default of 0.4.
	PhoneticWeight float64
}

// NewScorer returns a scorer with default weighting.
func NewScorer() *Scorer {
	return &Scorer{PhoneticWeight: 0.4}
}

// Score returns the best match of transcript against phrases as an integer
// in [0,100]. An empty transcript or phrase list scores 0.
func (s *Scorer) Score(transcript string, phrases []string) int {
	text := normalize(transcript)
	if text == "" || len(phrases) == 0 {
		return 0
	}

	best := 0.0
	for _, phrase := range phrases {
		target := normalize(phrase)
		if target == "" {
			continue
		}
		if strings.Contains(text, target) {
			return 100
		}
		if v := s.similarity(text, target); v > best {
			best = v
		}
	}
	return int(math.Round(best * 100))
}

func (s *Scorer) similarity(text, target string) float64 {
	pw := s.PhoneticWeight
	if pw <= 0 || pw > 1 {
		pw = 0.4
	}

	textual := matchr.JaroWinkler(text, target, true)
	phonetic := matchr.JaroWinkler(metaphoneKey(text), metaphoneKey(target), true)
	return (1-pw)*textual + pw*phonetic
}

// metaphoneKey concatenates the primary Double Metaphone code of every word,
// giving a pronunciation signature for the whole utterance.
func metaphoneKey(text string) string {
	var b strings.Builder
	for _, word := range strings.Fields(text) {
		primary, _ := matchr.DoubleMetaphone(word)
		b.WriteString(primary)
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String())
}

// normalize lowercases and strips everything but letters, digits, and
// apostrophes, collapsing runs of whitespace.
func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
