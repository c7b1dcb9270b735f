// Package verdict merges classifier output with attachment scan results.
package verdict

import (
	"math"

	"github.com/mikey/mail-risk/internal/core"
)

const (
	// HitBoost is added to the classifier score per malicious attachment
	HitBoost = 20
	// MaxBoost caps the total scan boost
	MaxBoost = 40
	// SpamThreshold is the fused score from which a message is SPAM
	SpamThreshold = 60
	// MalwareScanThreshold is the scan score from which a file counts as a hit
	MalwareScanThreshold = 70
)

// IsMalwareHit reports whether a completed scan score marks the file as malicious
func IsMalwareHit(scanScore int) bool {
	return scanScore >= MalwareScanThreshold
}

// Combine fuses the classifier label and score with the number of malware hits.
// Any hit, or a MALWARE classification, wins over the spam threshold.
func Combine(label core.Label, score float64, hits int) core.Verdict {
	boost := hits * HitBoost
	if boost > MaxBoost {
		boost = MaxBoost
	}
	if boost < 0 {
		boost = 0
	}

	final := clampScore(math.Round(score + float64(boost)))

	switch {
	case hits > 0:
		return core.Verdict{Label: core.LabelMalware, Score: final}
	case label == core.LabelMalware:
		return core.Verdict{Label: core.LabelMalware, Score: final}
	case final >= SpamThreshold:
		return core.Verdict{Label: core.LabelSpam, Score: final}
	default:
		return core.Verdict{Label: core.LabelLegitimate, Score: final}
	}
}

func clampScore(s float64) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return int(s)
}

// Policy exposes the fusion rules as a value that can be injected
type Policy struct{}

// IsMalwareHit implements core.VerdictPolicy
func (Policy) IsMalwareHit(scanScore int) bool {
	return IsMalwareHit(scanScore)
}

// Combine implements core.VerdictPolicy
func (Policy) Combine(label core.Label, score float64, hits int) core.Verdict {
	return Combine(label, score, hits)
}
