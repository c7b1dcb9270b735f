package core

import (
	"fmt"
	"strings"
)

// PromptBuilder renders the narrative prompt for an analysed email
type PromptBuilder struct {
	truncator   BodyTruncator
	maxBodySize int
	language    string
}

// NewPromptBuilder creates a prompt builder; bodies longer than maxBodySize bytes are truncated
func NewPromptBuilder(truncator BodyTruncator, maxBodySize int, language string) *PromptBuilder {
	if language == "" {
		language = "Portuguese"
	}
	return &PromptBuilder{truncator: truncator, maxBodySize: maxBodySize, language: language}
}

// Build renders the system and user messages
func (p *PromptBuilder) Build(rec *AnalysisRecord, clf *ClassificationResult, scan *ScanAggregate, v Verdict) NarrativePrompt {
	system := fmt.Sprintf(`You are an email security analyst.
Explain to a non-technical reader why the email below received its verdict.
Only use the indicators listed; do not invent new ones.
Write short paragraphs in %s and finish with a practical recommendation.`, p.language)

	body := rec.Body
	if p.truncator != nil {
		body = p.truncator.ProcessText(body, p.maxBodySize)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Final verdict: %s (score %d/100)\n", v.Label, v.Score)
	fmt.Fprintf(&b, "Classifier: %s (score %d/100)\n", clf.Label, clf.Score)
	b.WriteString("Classifier evidence:\n")
	for _, e := range clf.Evidence {
		fmt.Fprintf(&b, "- %s\n", e)
	}

	if scan != nil && len(rec.Attachments) > 0 {
		fmt.Fprintf(&b, "Attachment scan (%s): max score %d, malicious files %d\n", scan.Provider, scan.MaxScore, scan.Hits)
		for _, e := range scan.Evidence {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	} else {
		b.WriteString("Attachments: none\n")
	}

	fmt.Fprintf(&b, "\nTitle: %s\nSubject: %s\n\nBody:\n%s\n", rec.Title, rec.Subject, body)

	return NarrativePrompt{System: system, User: b.String()}
}
