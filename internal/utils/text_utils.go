package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// TruncationMarker is appended to text cut by TruncateText
const TruncationMarker = "\n[... conteúdo truncado ...]"

var blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+\n`)

// TextProcessor prepares email bodies for prompts; it satisfies core.BodyTruncator
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// TruncateText cuts text to at most maxSize bytes on a rune boundary
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	cut := maxSize
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	truncated := text[:cut]

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated + TruncationMarker
}

// SanitizeUTF8 drops invalid UTF-8 sequences and NUL bytes
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) && !strings.ContainsRune(text, 0) {
		return text
	}

	sanitized := strings.ReplaceAll(strings.ToValidUTF8(text, ""), "\x00", "")

	tp.logger.Debug("Text sanitized",
		zap.Int("original_size", len(text)),
		zap.Int("sanitized_size", len(sanitized)))

	return sanitized
}

// CollapseBlankLines normalizes line endings and squeezes runs of blank lines into one
func (tp *TextProcessor) CollapseBlankLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return blankLines.ReplaceAllString(text, "\n\n")
}

// ProcessText sanitizes, compacts and truncates text in one operation
func (tp *TextProcessor) ProcessText(text string, maxSize int) string {
	return tp.TruncateText(tp.CollapseBlankLines(tp.SanitizeUTF8(text)), maxSize)
}
