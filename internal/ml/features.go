package ml

import (
	"unicode"
)

// suspiciousTerms are matched against normalized tokens, so they are stored folded
var suspiciousTerms = map[string]struct{}{}

func init() {
	for _, t := range []string{
		"urgente", "clique", "verifique", "conta", "senha", "bloqueada",
		"pagamento", "fatura", "anexo", "atualize", "confirme",
		"urgent", "click", "verify", "account", "password", "suspended",
		"payment", "invoice", "attachment", "macro", "macros", "enable",
		"content", "prize", "winner", "security", "alert", "login",
	} {
		suspiciousTerms[t] = struct{}{}
	}
}

// IsSuspiciousTerm reports whether a normalized token is on the suspicious list
func IsSuspiciousTerm(token string) bool {
	_, ok := suspiciousTerms[token]
	return ok
}

// Features are the auxiliary signals computed from an email
type Features struct {
	TokenCount          int     `json:"tokenCount"`
	URLCount            int     `json:"urlCount"`
	SuspiciousWordCount int     `json:"suspiciousWordCount"`
	UpperRatio          float64 `json:"upperRatio"`
}

// CombineText joins subject and body the way every model sees them
func CombineText(subject, body string) string {
	return subject + "\n" + body
}

// ExtractFeatures computes the auxiliary features of subject and body
func ExtractFeatures(subject, body string) Features {
	_, f := AnalyzeText(CombineText(subject, body))
	return f
}

// AnalyzeText tokenizes already combined text and computes its features
func AnalyzeText(text string) ([]string, Features) {
	tokens := Tokenize(text)
	return tokens, featuresFromTokens(text, tokens)
}

func featuresFromTokens(raw string, tokens []string) Features {
	f := Features{
		TokenCount: len(tokens),
		URLCount:   CountURLs(raw),
		UpperRatio: upperRatio(raw),
	}
	for _, t := range tokens {
		if IsSuspiciousTerm(t) {
			f.SuspiciousWordCount++
		}
	}
	return f
}

func upperRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
