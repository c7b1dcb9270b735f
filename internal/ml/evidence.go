package ml

import (
	"fmt"
	"strings"
)

const (
	MaxEvidence = 6

	upperRatioEvidence = 0.35
	shortMessageTokens = 20
	longMessageTokens  = 1200

	lowConfidenceEvidence = "Sem sinais relevantes (baixa confiança)"
)

// featureEvidence renders the threshold-based signals shared by both classifiers
func featureEvidence(f Features, flagLong bool) []string {
	var ev []string
	if f.URLCount > 0 {
		ev = append(ev, fmt.Sprintf("Contém URLs (%d)", f.URLCount))
	}
	if f.UpperRatio >= upperRatioEvidence {
		ev = append(ev, "Uso elevado de MAIÚSCULAS")
	}
	if f.SuspiciousWordCount > 0 {
		ev = append(ev, fmt.Sprintf("Termos suspeitos (%d)", f.SuspiciousWordCount))
	}
	if f.TokenCount < shortMessageTokens {
		ev = append(ev, "Mensagem muito curta")
	}
	if flagLong && f.TokenCount > longMessageTokens {
		ev = append(ev, "Mensagem muito longa")
	}
	return ev
}

func tokenListEvidence(prefix string, tokens []string) string {
	return prefix + strings.Join(tokens, ", ")
}

func finishEvidence(ev []string) []string {
	if len(ev) == 0 {
		return []string{lowConfidenceEvidence}
	}
	if len(ev) > MaxEvidence {
		ev = ev[:MaxEvidence]
	}
	return ev
}
