// Package simhash computes 64-bit SimHash fingerprints for near-duplicate
// detection of review texts and of page structures.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

// Fingerprint computes the SimHash of text over lowercased word tokens.
// Punctuation is ignored, so "Great product!" and "great product" match.
func Fingerprint(text string) uint64 {
	return fromTokens(tokenize(text))
}

func fromTokens(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}
	var vector [64]int
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}
	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two fingerprints are within threshold bits.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}

// Set remembers fingerprints and flags near-duplicates. The zero value is
// ready to use. It is not safe for concurrent use.
type Set struct {
	Threshold int
	seen      map[string][]uint64
}

// Add records text under key and reports whether an earlier text under
// the same key was within Threshold bits. Empty texts are never
// duplicates.
func (s *Set) Add(key, text string) bool {
	fp := Fingerprint(text)
	if fp == 0 {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string][]uint64)
	}
	for _, prev := range s.seen[key] {
		if Similar(prev, fp, s.Threshold) {
			return true
		}
	}
	s.seen[key] = append(s.seen[key], fp)
	return false
}
