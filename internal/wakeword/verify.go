// Package wakeword verifies that a transcript actually begins with the
// configured activation phrase.
//
// The acoustic detector is deliberately permissive: it fires on any energy
// burst that resembles speech onset. Verification runs once the first
// transcript for the segment arrives and checks the leading words against the
// activation phrase using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity, so "hey auric" still matches when the
// transcriber hears "hey oric" or "a orick".
package wakeword

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Verifier].
type Option func(*Verifier)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-aligned prefix to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(v *Verifier) {
		v.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when the
// prefix shares no phonetic code with the phrase and the verifier falls back
// to pure string similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(v *Verifier) {
		v.fuzzyThreshold = threshold
	}
}

// Verifier checks transcripts against one activation phrase. It is read-only
// after construction and safe for concurrent use.
type Verifier struct {
	phrase            string
	phraseTokens      []string
	phraseCodes       map[string]struct{}
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a verifier for the given activation phrase.
func New(phrase string, opts ...Option) *Verifier {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
	v := &Verifier{
		phrase:            strings.Join(tokens, " "),
		phraseTokens:      tokens,
		phraseCodes:       codesForTokens(tokens),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Phrase returns the normalized activation phrase.
func (v *Verifier) Phrase() string {
	return v.phrase
}

// Verify reports whether transcript begins with the activation phrase. It
// compares the leading n tokens of the transcript (n = phrase length, with a
// one-token slack in both directions for split or merged words) against the
// phrase and returns the best similarity score.
//
// When ok is false the confidence is the best score that fell short, which
// callers may log for threshold tuning.
func (v *Verifier) Verify(transcript string) (confidence float64, ok bool) {
	if len(v.phraseTokens) == 0 {
		return 0, false
	}
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(transcript)))
	if len(tokens) == 0 {
		return 0, false
	}

	var best float64
	for _, n := range prefixLengths(len(v.phraseTokens), len(tokens)) {
		prefix := tokens[:n]
		score := bestJWScore(prefix, v.phraseTokens, strings.Join(prefix, " "), v.phrase)
		if score > best {
			best = score
		}
		phonetic := codesOverlap(codesForTokens(prefix), v.phraseCodes)
		if phonetic && score >= v.phoneticThreshold {
			ok = true
		}
		if score >= v.fuzzyThreshold {
			ok = true
		}
	}
	return best, ok
}

// Strip removes the activation phrase prefix from the transcript, returning
// the remaining command text. When the prefix does not verify, the transcript
// is returned unchanged.
func (v *Verifier) Strip(transcript string) string {
	if _, ok := v.Verify(transcript); !ok {
		return transcript
	}
	tokens := strings.Fields(strings.TrimSpace(transcript))

	// Drop the prefix length whose full string scores highest against the
	// phrase. Pairwise token scores are not used here: a single matching
	// token would tie with the complete phrase and swallow too little.
	bestN := 0
	var bestScore float64
	lowered := strings.Fields(strings.ToLower(strings.TrimSpace(transcript)))
	for _, n := range prefixLengths(len(v.phraseTokens), len(lowered)) {
		prefix := strings.Join(lowered[:n], " ")
		score := matchr.JaroWinkler(prefix, v.phrase, false)
		if score > bestScore {
			bestScore = score
			bestN = n
		}
	}
	if bestN >= len(tokens) {
		return ""
	}
	return strings.Join(tokens[bestN:], " ")
}

// prefixLengths returns the candidate prefix sizes to test, clamped to the
// transcript length: the phrase length itself plus one token of slack either
// way.
func prefixLengths(phraseLen, transcriptLen int) []int {
	var out []int
	for _, n := range []int{phraseLen - 1, phraseLen, phraseLen + 1} {
		if n >= 1 && n <= transcriptLen {
			out = append(out, n)
		}
	}
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
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

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the prefix
// and the phrase using three strategies: full strings, space-stripped
// concatenations, and the best pairwise token score.
func bestJWScore(prefixTokens, phraseTokens []string, prefixFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(prefixFull, phraseFull, false)

	if len(prefixTokens) > 1 || len(phraseTokens) > 1 {
		concat1 := strings.Join(prefixTokens, "")
		concat2 := strings.Join(phraseTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, pt := range prefixTokens {
		for _, et := range phraseTokens {
			if s := matchr.JaroWinkler(pt, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
