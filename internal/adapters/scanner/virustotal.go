package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// largeFileBytes is the size above which VirusTotal requires a dedicated upload URL
const largeFileBytes = 32 << 20

type vtStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

type vtObject struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status            string   `json:"status"`
			LastAnalysisStats *vtStats `json:"last_analysis_stats"`
			Stats             *vtStats `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// VirusTotal scans files with the VirusTotal v3 API
type VirusTotal struct {
	api    apiClient
	apiKey string
	logger *zap.Logger
}

// NewVirusTotal creates a VirusTotal scanner
func NewVirusTotal(apiKey, baseURL string, timeout time.Duration, poll PollConfig, logger *zap.Logger) *VirusTotal {
	return &VirusTotal{
		api:    newAPIClient(baseURL, timeout, poll),
		apiKey: apiKey,
		logger: logger,
	}
}

// Name implements core.MalwareScanner
func (v *VirusTotal) Name() string {
	return "virustotal"
}

// Scan looks the file up by hash and uploads it when VirusTotal has never seen it
func (v *VirusTotal) Scan(ctx context.Context, file *core.Attachment) (*core.ScanResult, error) {
	raw, err := v.get(ctx, "/files/"+file.SHA256)
	if err == nil {
		return vtResult(raw)
	}
	if !errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("failed to look up file: %w", err)
	}

	v.logger.Debug("Uploading file to VirusTotal",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.SizeBytes))

	analysisID, err := v.upload(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	for i := 0; i < v.api.poll.MaxPolls; i++ {
		raw, err := v.get(ctx, "/analyses/"+analysisID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch analysis: %w", err)
		}
		var obj vtObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode analysis: %w", err)
		}
		if obj.Data.Attributes.Status == "completed" {
			return vtResult(raw)
		}
		if err := v.api.wait(ctx); err != nil {
			return nil, err
		}
	}

	return &core.ScanResult{
		Status:   core.ScanFailed,
		Evidence: []string{"VirusTotal: análise ainda em processamento."},
	}, nil
}

func (v *VirusTotal) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.api.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", v.apiKey)
	req.Header.Set("Accept", "application/json")
	return v.api.do(req)
}

func (v *VirusTotal) upload(ctx context.Context, file *core.Attachment) (string, error) {
	uploadURL := v.api.baseURL + "/files"
	if file.SizeBytes > largeFileBytes {
		raw, err := v.get(ctx, "/files/upload_url")
		if err != nil {
			return "", fmt.Errorf("failed to get upload URL: %w", err)
		}
		var u struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(raw, &u); err != nil || u.Data == "" {
			return "", fmt.Errorf("invalid upload URL response")
		}
		uploadURL = u.Data
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", file.Filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(file.Content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-apikey", v.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := v.api.do(req)
	if err != nil {
		return "", err
	}
	var obj vtObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Data.ID == "" {
		return "", fmt.Errorf("upload response carries no analysis id")
	}
	return obj.Data.ID, nil
}

func vtResult(raw json.RawMessage) (*core.ScanResult, error) {
	var obj vtObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	stats := obj.Data.Attributes.LastAnalysisStats
	if stats == nil {
		stats = obj.Data.Attributes.Stats
	}
	if stats == nil {
		return &core.ScanResult{
			Status:   core.ScanCompleted,
			Evidence: []string{"VirusTotal: relatório recebido."},
			Report:   raw,
		}, nil
	}

	return &core.ScanResult{
		Status: core.ScanCompleted,
		Score:  vtScore(*stats),
		Evidence: []string{fmt.Sprintf("VirusTotal: malicious=%d, suspicious=%d, harmless=%d, undetected=%d",
			stats.Malicious, stats.Suspicious, stats.Harmless, stats.Undetected)},
		Report: raw,
	}, nil
}

// vtScore weighs engine detections into 0..100
func vtScore(s vtStats) int {
	score := s.Malicious*15 + s.Suspicious*5
	if score > 100 {
		return 100
	}
	return score
}
