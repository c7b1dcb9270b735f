package ml

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// URLToken replaces every URL in normalized text
	URLToken = "url"

	MinTokenLen = 3
	MaxTokenLen = 24
)

var (
	markupPattern     = regexp.MustCompile(`<[^>]+>`)
	urlPattern        = regexp.MustCompile(`(?i)https?://\S+`)
	nonWordPattern    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// foldDiacritics strips combining marks after compatibility decomposition.
// A transformer carries state, so one is built per call.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeText lower-cases text, folds diacritics, drops markup tags,
// replaces URLs with URLToken and reduces everything else to words separated by single spaces
func NormalizeText(text string) string {
	s := strings.ToLower(text)
	s = foldDiacritics(s)
	s = markupPattern.ReplaceAllString(s, " ")
	s = urlPattern.ReplaceAllString(s, " "+URLToken+" ")
	s = nonWordPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize returns the normalized tokens of text whose length is within bounds
func Tokenize(text string) []string {
	fields := strings.Split(NormalizeText(text), " ")
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		n := utf8.RuneCountInString(f)
		if n < MinTokenLen || n > MaxTokenLen {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// CountURLs counts URLs in raw text
func CountURLs(text string) int {
	return len(urlPattern.FindAllStringIndex(text, -1))
}
