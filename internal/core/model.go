package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Label is the risk verdict assigned to an email
type Label string

const (
	LabelLegitimate Label = "LEGITIMATE"
	LabelSpam       Label = "SPAM"
	LabelMalware    Label = "MALWARE"
)

// ParseLabel maps a stored label, including legacy spellings, onto a Label
func ParseLabel(s string) (Label, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LEGITIMATE", "LEGITIMO", "LEGÍTIMO", "HAM":
		return LabelLegitimate, true
	case "SPAM":
		return LabelSpam, true
	case "MALWARE":
		return LabelMalware, true
	default:
		return "", false
	}
}

// AnalysisStatus is the lifecycle state of an analysis
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "PENDING"
	StatusScanning  AnalysisStatus = "SCANNING"
	StatusCompleted AnalysisStatus = "COMPLETED"
	StatusFailed    AnalysisStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ScanStatus is the state of a single attachment scan
type ScanStatus string

const (
	ScanPending   ScanStatus = "PENDING"
	ScanScanning  ScanStatus = "SCANNING"
	ScanCompleted ScanStatus = "COMPLETED"
	ScanFailed    ScanStatus = "FAILED"
)

// ClassificationResult is the output of the text classifier
type ClassificationResult struct {
	Label     Label    `json:"label"`
	Score     int      `json:"score"`
	Evidence  []string `json:"evidence"`
	ModelKind string   `json:"modelKind,omitempty"`
}

// ScanResult is what a malware scanner reports for one file
type ScanResult struct {
	Status   ScanStatus      `json:"status"`
	Score    int             `json:"score"`
	Evidence []string        `json:"evidence,omitempty"`
	Report   json.RawMessage `json:"report,omitempty"`
}

// Verdict is the fused final decision
type Verdict struct {
	Label Label `json:"label"`
	Score int   `json:"score"`
}

// Attachment is a file submitted with an analysis
type Attachment struct {
	ID           string          `json:"id"`
	AnalysisID   string          `json:"analysisId"`
	Filename     string          `json:"filename"`
	MimeType     string          `json:"mimeType"`
	SizeBytes    int64           `json:"sizeBytes"`
	SHA256       string          `json:"sha256"`
	Content      []byte          `json:"-"`
	ScanStatus   ScanStatus      `json:"scanStatus"`
	ScanProvider string          `json:"scanProvider,omitempty"`
	ScanScore    *int            `json:"scanScore,omitempty"`
	ScanEvidence []string        `json:"scanEvidence,omitempty"`
	ScanReport   json.RawMessage `json:"scanReport,omitempty"`
}

// ScanAggregate summarizes all attachment scans of an analysis
type ScanAggregate struct {
	Provider string   `json:"provider"`
	MaxScore int      `json:"maxScore"`
	Hits     int      `json:"hits"`
	Evidence []string `json:"evidence"`
}

// AnalysisRecord is the persisted state of one analysis
type AnalysisRecord struct {
	ID             string                `json:"id"`
	OwnerID        string                `json:"ownerId"`
	Status         AnalysisStatus        `json:"status"`
	Title          string                `json:"title"`
	Subject        string                `json:"subject"`
	Body           string                `json:"body"`
	Attachments    []*Attachment         `json:"attachments"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Scan           *ScanAggregate        `json:"scan,omitempty"`
	Verdict        *Verdict              `json:"verdict,omitempty"`
	Narrative      string                `json:"narrative"`
	FailureReason  string                `json:"failureReason,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
	CompletedAt    *time.Time            `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the record
func (r *AnalysisRecord) Clone() *AnalysisRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Attachments != nil {
		out.Attachments = make([]*Attachment, len(r.Attachments))
		for i, a := range r.Attachments {
			out.Attachments[i] = a.Clone()
		}
	}
	if r.Classification != nil {
		c := *r.Classification
		c.Evidence = append([]string(nil), r.Classification.Evidence...)
		out.Classification = &c
	}
	if r.Scan != nil {
		s := *r.Scan
		s.Evidence = append([]string(nil), r.Scan.Evidence...)
		out.Scan = &s
	}
	if r.Verdict != nil {
		v := *r.Verdict
		out.Verdict = &v
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Clone returns a deep copy of the attachment
func (a *Attachment) Clone() *Attachment {
	if a == nil {
		return nil
	}
	out := *a
	out.Content = append([]byte(nil), a.Content...)
	out.ScanEvidence = append([]string(nil), a.ScanEvidence...)
	out.ScanReport = append(json.RawMessage(nil), a.ScanReport...)
	if a.ScanScore != nil {
		s := *a.ScanScore
		out.ScanScore = &s
	}
	return &out
}

// NarrativePrompt is the input handed to a narrative generator
type NarrativePrompt struct {
	System string
	User   string
}
