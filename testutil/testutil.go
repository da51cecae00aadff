// Package testutil provides deterministic corpora and brute-force selection
// references for tests.
package testutil

import (
	"math/rand/v2"
	"slices"
)

// Record is one scored payload of a test corpus.
type Record struct {
	Score   float64
	Payload []byte
}

// Records builds a deterministic corpus of n records with scores in [0, 1)
// and printable payloads of up to maxPayload bytes. The same seed always
// produces the same corpus.
func Records(seed uint64, n, maxPayload int) []Record {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]Record, n)
	for i := range out {
		p := make([]byte, rng.IntN(maxPayload+1))
		for j := range p {
			p[j] = byte('a' + rng.IntN(26))
		}
		out[i] = Record{Score: rng.Float64(), Payload: p}
	}
	return out
}

// Ascending returns a copy of records sorted by ascending score.
func Ascending(records []Record) []Record {
	out := slices.Clone(records)
	slices.SortFunc(out, compareAsc)
	return out
}

// Descending returns a copy of records sorted by descending score.
func Descending(records []Record) []Record {
	out := slices.Clone(records)
	slices.SortFunc(out, func(a, b Record) int { return compareAsc(b, a) })
	return out
}

// Smallest returns the k lowest-scored records in ascending score order:
// the brute-force reference for selection results.
func Smallest(records []Record, k int) []Record {
	return clampHead(Ascending(records), k)
}

// Largest returns the k highest-scored records in descending score order.
func Largest(records []Record, k int) []Record {
	return clampHead(Descending(records), k)
}

func clampHead(sorted []Record, k int) []Record {
	if k < 0 {
		k = 0
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k]
}

func compareAsc(a, b Record) int {
	switch {
	case a.Score < b.Score:
		return -1
	case a.Score > b.Score:
		return 1
	default:
		return 0
	}
}
