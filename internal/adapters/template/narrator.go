// Package template provides an offline narrative generator that needs no LLM
package template

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

var verdictLine = regexp.MustCompile(`^Final verdict: (\S+) \(score (\d+)/100\)`)

// Narrator renders a fixed Portuguese explanation from the indicators in the prompt
type Narrator struct {
	logger *zap.Logger
}

// NewNarrator creates a template narrator
func NewNarrator(logger *zap.Logger) *Narrator {
	return &Narrator{logger: logger}
}

// StreamNarrative renders the narrative and streams it one word at a time
func (n *Narrator) StreamNarrative(ctx context.Context, prompt core.NarrativePrompt) (core.TokenStream, error) {
	text := Render(prompt.User)
	n.logger.Debug("Rendered template narrative", zap.Int("length", len(text)))
	return &wordStream{ctx: ctx, words: splitKeepingSpaces(text)}, nil
}

// Render builds the narrative text from a prompt user block
func Render(user string) string {
	label, score := "", ""
	var evidence []string
	for _, line := range strings.Split(user, "\n") {
		if m := verdictLine.FindStringSubmatch(line); m != nil {
			label, score = m[1], m[2]
			continue
		}
		if strings.HasPrefix(line, "- ") {
			evidence = append(evidence, strings.TrimPrefix(line, "- "))
		}
		if strings.HasPrefix(line, "Title: ") {
			break
		}
	}

	var b strings.Builder
	switch core.Label(label) {
	case core.LabelMalware:
		fmt.Fprintf(&b, "Este email foi classificado como MALWARE (risco %s/100). ", score)
	case core.LabelSpam:
		fmt.Fprintf(&b, "Este email foi classificado como SPAM (risco %s/100). ", score)
	default:
		fmt.Fprintf(&b, "Este email parece legítimo (risco %s/100). ", score)
	}

	if len(evidence) > 0 {
		b.WriteString("Indicadores observados: ")
		b.WriteString(strings.Join(evidence, "; "))
		b.WriteString(". ")
	}

	switch core.Label(label) {
	case core.LabelMalware:
		b.WriteString("Recomendação: não abra os anexos e apague a mensagem.")
	case core.LabelSpam:
		b.WriteString("Recomendação: não clique em links nem responda ao remetente.")
	default:
		b.WriteString("Recomendação: mantenha a cautela habitual com links e anexos.")
	}
	return b.String()
}

func splitKeepingSpaces(text string) []string {
	fields := strings.SplitAfter(text, " ")
	words := fields[:0]
	for _, f := range fields {
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

type wordStream struct {
	ctx   context.Context
	words []string
}

func (s *wordStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.words) == 0 {
		return "", io.EOF
	}
	w := s.words[0]
	s.words = s.words[1:]
	return w, nil
}

func (s *wordStream) Close() error {
	s.words = nil
	return nil
}
