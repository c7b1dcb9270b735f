package ml

import (
	"hash/fnv"
	"math"

	"github.com/mikey/mail-risk/internal/core"
)

const (
	// DefaultHashDim is the number of hashed weight slots
	DefaultHashDim = 1 << 16

	hashedScoreScale = 6.0
	hashedSampleSize = 10
)

// HashToken returns the FNV-1a 32-bit hash of a token
func HashToken(token string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return h.Sum32()
}

// HashIndex maps a token onto a slot of a power-of-two sized weight table
func HashIndex(token string, dim int) int {
	return int(HashToken(token) & uint32(dim-1))
}

// RawScore is bias plus the weight of every token occurrence
func (m *HashedModel) RawScore(tokens []string) float64 {
	s := m.Bias
	for _, t := range tokens {
		s += m.Weights[HashIndex(t, m.Dim)]
	}
	return s
}

// Sigmoid is the logistic function
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// ClassifyHashed scores an email with a hashed perceptron
func ClassifyHashed(m *HashedModel, subject, body string) *core.ClassificationResult {
	tokens, features := AnalyzeText(CombineText(subject, body))

	p := Sigmoid(m.RawScore(tokens) / hashedScoreScale)
	label := core.LabelLegitimate
	if p >= 0.5 {
		label = core.LabelSpam
	}

	ev := featureEvidence(features, false)
	if len(tokens) > 0 {
		sample := tokens
		if len(sample) > hashedSampleSize {
			sample = sample[:hashedSampleSize]
		}
		ev = append(ev, tokenListEvidence("Tokens (amostra): ", sample))
	}

	return &core.ClassificationResult{
		Label:     label,
		Score:     probabilityScore(p),
		Evidence:  finishEvidence(ev),
		ModelKind: string(KindHashedPerceptron),
	}
}

func probabilityScore(p float64) int {
	s := int(math.Round(p * 100))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
