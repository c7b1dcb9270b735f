package ml

import (
	"math"
	"sort"

	"github.com/mikey/mail-risk/internal/core"
)

const tfidfTopTokens = 8

// Softmax converts logits to probabilities, subtracting the max logit first
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value; ties go to the lowest index
func Argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// tfidfClassifier holds a multiclass model together with its vocabulary index
type tfidfClassifier struct {
	model      *TFIDFModel
	vocabIndex map[string]int
}

func newTFIDFClassifier(m *TFIDFModel) *tfidfClassifier {
	return &tfidfClassifier{model: m, vocabIndex: IndexVocabulary(m.Vocab)}
}

// Logits returns the per-class scores of a vector
func (c *tfidfClassifier) Logits(x SparseVector) []float64 {
	logits := make([]float64, len(c.model.Classes))
	for k := range c.model.Classes {
		logits[k] = x.Dot(c.model.Weights[k], c.model.Bias[k])
	}
	return logits
}

func (c *tfidfClassifier) classify(subject, body string) *core.ClassificationResult {
	tokens, features := AnalyzeText(CombineText(subject, body))
	x := Vectorize(tokens, c.vocabIndex, c.model.IDF, features)

	probs := Softmax(c.Logits(x))
	best := Argmax(probs)

	ev := featureEvidence(features, true)
	if top := c.topTokens(x, best); len(top) > 0 {
		ev = append(ev, tokenListEvidence("Tokens relevantes: ", top))
	}

	return &core.ClassificationResult{
		Label:     c.model.Classes[best],
		Score:     probabilityScore(probs[best]),
		Evidence:  finishEvidence(ev),
		ModelKind: string(KindTFIDFPerceptron),
	}
}

// topTokens ranks vocabulary entries by |w[class][i] * x[i]|
func (c *tfidfClassifier) topTokens(x SparseVector, class int) []string {
	type contribution struct {
		index    int
		strength float64
	}
	v := len(c.model.Vocab)
	w := c.model.Weights[class]

	var contribs []contribution
	for _, i := range x.Indices() {
		if i >= v {
			continue
		}
		s := math.Abs(w[i] * x[i])
		if s == 0 {
			continue
		}
		contribs = append(contribs, contribution{index: i, strength: s})
	}
	sort.SliceStable(contribs, func(a, b int) bool {
		return contribs[a].strength > contribs[b].strength
	})
	if len(contribs) > tfidfTopTokens {
		contribs = contribs[:tfidfTopTokens]
	}

	out := make([]string, len(contribs))
	for i, ct := range contribs {
		out[i] = c.model.Vocab[ct.index]
	}
	return out
}

// ClassifyTFIDF scores an email with a multiclass model
func ClassifyTFIDF(m *TFIDFModel, subject, body string) *core.ClassificationResult {
	return newTFIDFClassifier(m).classify(subject, body)
}
