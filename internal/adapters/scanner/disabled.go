package scanner

import (
	"context"

	"github.com/mikey/mail-risk/internal/core"
)

// Disabled reports every file as not scanned
type Disabled struct{}

// Name implements core.MalwareScanner
func (Disabled) Name() string {
	return "disabled"
}

// Scan implements core.MalwareScanner
func (Disabled) Scan(ctx context.Context, file *core.Attachment) (*core.ScanResult, error) {
	return &core.ScanResult{
		Status:   core.ScanFailed,
		Evidence: []string{"Scan de malware desativado."},
	}, nil
}
