package ml

import (
	"sort"
)

// Auxiliary feature offsets relative to the vocabulary size
const (
	AuxTokenCount = iota
	AuxURLCount
	AuxSuspiciousWordCount
	AuxUpperRatio

	NumAuxFeatures
)

// AuxFeatureNames lists the auxiliary features in vector order
var AuxFeatureNames = []string{"tokenCount", "urlCount", "suspiciousWordCount", "upperRatio"}

// SparseVector maps feature indices to values
type SparseVector map[int]float64

// Indices returns the populated indices in ascending order
func (v SparseVector) Indices() []int {
	idx := make([]int, 0, len(v))
	for i := range v {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Dot computes w·v + bias, summing in index order so results are bit-exact
func (v SparseVector) Dot(w []float64, bias float64) float64 {
	s := bias
	for _, i := range v.Indices() {
		if i < len(w) {
			s += w[i] * v[i]
		}
	}
	return s
}

// IndexVocabulary builds the token to index lookup for a vocabulary
func IndexVocabulary(vocab []string) map[string]int {
	index := make(map[string]int, len(vocab))
	for i, t := range vocab {
		index[t] = i
	}
	return index
}

// Vectorize builds the TF-IDF vector of tokens followed by the four auxiliary features.
// The vocabulary size V is len(idf); auxiliary features always sit at V and above.
// Tokens outside the vocabulary are ignored.
func Vectorize(tokens []string, vocabIndex map[string]int, idf []float64, extra Features) SparseVector {
	tf := make(map[int]int)
	maxTF := 0
	for _, t := range tokens {
		i, ok := vocabIndex[t]
		if !ok || i >= len(idf) {
			continue
		}
		tf[i]++
		if tf[i] > maxTF {
			maxTF = tf[i]
		}
	}

	v := make(SparseVector, len(tf)+NumAuxFeatures)
	for i, c := range tf {
		v[i] = float64(c) / float64(maxTF) * idf[i]
	}

	base := len(idf)
	v[base+AuxTokenCount] = clamp01(float64(extra.TokenCount) / 2000)
	v[base+AuxURLCount] = clamp01(float64(extra.URLCount) / 50)
	v[base+AuxSuspiciousWordCount] = clamp01(float64(extra.SuspiciousWordCount) / 50)
	v[base+AuxUpperRatio] = clamp01(extra.UpperRatio)
	return v
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
