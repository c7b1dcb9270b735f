package training

import (
	"github.com/mikey/mail-risk/internal/ml"
)

// Split assigns rows to the held-out set by content hash
type Split struct {
	Mod       uint32
	Remainder uint32
}

// DefaultSplit holds out roughly one row in ten
var DefaultSplit = Split{Mod: 10, Remainder: 0}

// IsTest reports whether the row belongs to the held-out set
func (s Split) IsTest(r Row) bool {
	if s.Mod == 0 {
		return false
	}
	return ml.HashToken(r.Key())%s.Mod == s.Remainder
}
