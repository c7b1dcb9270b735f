package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

type mdReport struct {
	DataID      string `json:"data_id"`
	ScanResults *struct {
		ScanAllResultI     *int   `json:"scan_all_result_i"`
		ScanAllResultA     string `json:"scan_all_result_a"`
		ProgressPercentage *int   `json:"progress_percentage"`
	} `json:"scan_results"`
}

func (r mdReport) finished() bool {
	if r.ScanResults == nil || r.ScanResults.ScanAllResultI == nil {
		return false
	}
	p := r.ScanResults.ProgressPercentage
	return p == nil || *p >= 100
}

// MetaDefender scans files with the OPSWAT MetaDefender Cloud v4 API
type MetaDefender struct {
	api    apiClient
	apiKey string
	logger *zap.Logger
}

// NewMetaDefender creates a MetaDefender scanner
func NewMetaDefender(apiKey, baseURL string, timeout time.Duration, poll PollConfig, logger *zap.Logger) *MetaDefender {
	return &MetaDefender{
		api:    newAPIClient(baseURL, timeout, poll),
		apiKey: apiKey,
		logger: logger,
	}
}

// Name implements core.MalwareScanner
func (m *MetaDefender) Name() string {
	return "metadefender"
}

// Scan looks the hash up and submits the file when MetaDefender has no report
func (m *MetaDefender) Scan(ctx context.Context, file *core.Attachment) (*core.ScanResult, error) {
	raw, err := m.get(ctx, "/hash/"+file.SHA256)
	switch {
	case err == nil:
		if rep, derr := decodeMD(raw); derr == nil && rep.finished() {
			return mdResult(rep, raw), nil
		}
	case !errors.Is(err, errNotFound):
		return nil, fmt.Errorf("failed to look up hash: %w", err)
	}

	m.logger.Debug("Submitting file to MetaDefender",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.SizeBytes))

	dataID, err := m.upload(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	for i := 0; i < m.api.poll.MaxPolls; i++ {
		raw, err := m.get(ctx, "/file/"+dataID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch scan: %w", err)
		}
		rep, err := decodeMD(raw)
		if err != nil {
			return nil, err
		}
		if rep.finished() {
			return mdResult(rep, raw), nil
		}
		if err := m.api.wait(ctx); err != nil {
			return nil, err
		}
	}

	return &core.ScanResult{
		Status:   core.ScanFailed,
		Evidence: []string{"MetaDefender: análise ainda em processamento."},
	}, nil
}

func (m *MetaDefender) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.api.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", m.apiKey)
	return m.api.do(req)
}

func (m *MetaDefender) upload(ctx context.Context, file *core.Attachment) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.api.baseURL+"/file", bytes.NewReader(file.Content))
	if err != nil {
		return "", err
	}
	req.Header.Set("apikey", m.apiKey)
	req.Header.Set("filename", file.Filename)
	req.Header.Set("Content-Type", "application/octet-stream")

	raw, err := m.api.do(req)
	if err != nil {
		return "", err
	}
	rep, err := decodeMD(raw)
	if err != nil {
		return "", err
	}
	if rep.DataID == "" {
		return "", fmt.Errorf("upload response carries no data_id")
	}
	return rep.DataID, nil
}

func decodeMD(raw json.RawMessage) (mdReport, error) {
	var rep mdReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return rep, fmt.Errorf("failed to decode report: %w", err)
	}
	return rep, nil
}

// mdResult maps the overall verdict: 0 no threat, 1 infected, 2 suspicious
func mdResult(rep mdReport, raw json.RawMessage) *core.ScanResult {
	code := *rep.ScanResults.ScanAllResultI
	overall := rep.ScanResults.ScanAllResultA
	if overall == "" {
		overall = fmt.Sprintf("%d", code)
	}
	evidence := []string{fmt.Sprintf("MetaDefender: resultado global=%q", overall)}

	var score int
	switch code {
	case 0:
		score = 0
	case 1:
		score = 100
	case 2:
		score = 75
	default:
		return &core.ScanResult{Status: core.ScanFailed, Evidence: evidence, Report: raw}
	}
	return &core.ScanResult{Status: core.ScanCompleted, Score: score, Evidence: evidence, Report: raw}
}
