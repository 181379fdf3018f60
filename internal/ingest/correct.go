package ingest

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// VocabularyCorrector rewrites transcript text against a project's known
// vocabulary (proper nouns, domain terms) before it is persisted or
// coalesced. This is a supplemented feature: the source material's
// transcript-acceptance path is a straight pass-through, but the
// original codebase's entity-matching machinery
// (internal/transcript/phonetic/phonetic.go) has an obvious home here,
// since STT output on domain-specific proper nouns is exactly where
// phonetic correction earns its keep.
//
// Same two-stage algorithm as the original codebase's entity-matching
// Matcher: Double Metaphone
// phonetic filtering narrows candidates, then Jaro-Winkler similarity
// ranks them, with a pure-fuzzy fallback pass when no phonetic
// candidate clears the bar.
type VocabularyCorrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewVocabularyCorrector returns a corrector with the default
// thresholds (0.70 phonetic, 0.85 fuzzy fallback).
func NewVocabularyCorrector() *VocabularyCorrector {
	return &VocabularyCorrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// Correct rewrites each word of text that phonetically or fuzzily
// matches a term in vocabulary, preserving word boundaries and leaving
// unmatched words untouched.
func (c *VocabularyCorrector) Correct(text string, vocabulary []string) string {
	if len(vocabulary) == 0 {
		return text
	}
	words := strings.Fields(text)
	for i, w := range words {
		if corrected, _, matched := c.matchWord(w, vocabulary); matched {
			words[i] = corrected
		}
	}
	return strings.Join(words, " ")
}

func (c *VocabularyCorrector) matchWord(word string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return word, 0, false
	}
	wordLower := strings.ToLower(trimmed)
	inputCodes := phoneticCodes(wordLower)

	var bestTerm string
	var bestScore float64
	var bestPhonetic bool

	for _, term := range vocabulary {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termCodes := phoneticCodes(termLower)
		phoneticMatch := codesOverlap(inputCodes, termCodes)
		score := matchr.JaroWinkler(wordLower, termLower, false)

		if phoneticMatch {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = term, score, true
			}
		} else if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = term, score
		}
	}

	if bestTerm == "" {
		return word, 0, false
	}
	return bestTerm, bestScore, true
}

func phoneticCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

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
