package scanner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/mail-risk/internal/adapters/cache"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap/zaptest"
)

func testFile() *core.Attachment {
	return &core.Attachment{Filename: "invoice.exe", SHA256: "deadbeef", SizeBytes: 2, Content: []byte("MZ")}
}

var fastPoll = PollConfig{Interval: 0, MaxPolls: 3}

func TestVirusTotalKnownHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/deadbeef" || r.Header.Get("x-apikey") != "key" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("x-apikey"))
		}
		fmt.Fprint(w, `{"data":{"attributes":{"last_analysis_stats":{"malicious":6,"suspicious":1,"harmless":0,"undetected":60}}}}`)
	}))
	defer srv.Close()

	vt := NewVirusTotal("key", srv.URL, time.Second, fastPoll, zaptest.NewLogger(t))
	res, err := vt.Scan(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if res.Status != core.ScanCompleted || res.Score != 95 {
		t.Errorf("result = %+v", res)
	}
	want := "VirusTotal: malicious=6, suspicious=1, harmless=0, undetected=60"
	if len(res.Evidence) != 1 || res.Evidence[0] != want {
		t.Errorf("evidence = %q", res.Evidence)
	}
	if len(res.Report) == 0 {
		t.Error("report not kept")
	}
}

func TestVirusTotalUploadsUnknownFile(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files/deadbeef":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"NotFoundError"}}`)
		case r.URL.Path == "/files" && r.Method == http.MethodPost:
			f, _, err := r.FormFile("file")
			if err != nil {
				t.Errorf("FormFile() error = %v", err)
				return
			}
			data, _ := io.ReadAll(f)
			if string(data) != "MZ" {
				t.Errorf("uploaded %q", data)
			}
			fmt.Fprint(w, `{"data":{"id":"an-1","type":"analysis"}}`)
		case r.URL.Path == "/analyses/an-1":
			if atomic.AddInt32(&polls, 1) == 1 {
				fmt.Fprint(w, `{"data":{"attributes":{"status":"queued"}}}`)
				return
			}
			fmt.Fprint(w, `{"data":{"attributes":{"status":"completed","stats":{"malicious":0,"suspicious":0,"harmless":2,"undetected":50}}}}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	vt := NewVirusTotal("key", srv.URL, time.Second, fastPoll, zaptest.NewLogger(t))
	res, err := vt.Scan(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if res.Status != core.ScanCompleted || res.Score != 0 {
		t.Errorf("result = %+v", res)
	}
	if atomic.LoadInt32(&polls) != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
}

func TestVirusTotalPollExhaustionFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/deadbeef":
			w.WriteHeader(http.StatusNotFound)
		case "/files":
			fmt.Fprint(w, `{"data":{"id":"an-2"}}`)
		default:
			fmt.Fprint(w, `{"data":{"attributes":{"status":"queued"}}}`)
		}
	}))
	defer srv.Close()

	vt := NewVirusTotal("key", srv.URL, time.Second, fastPoll, zaptest.NewLogger(t))
	res, err := vt.Scan(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if res.Status != core.ScanFailed {
		t.Errorf("status = %s, want FAILED", res.Status)
	}
}

func TestVirusTotalServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":"QuotaExceededError"}}`)
	}))
	defer srv.Close()

	vt := NewVirusTotal("key", srv.URL, time.Second, fastPoll, zaptest.NewLogger(t))
	_, err := vt.Scan(context.Background(), testFile())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("Scan() error = %v, want status 429", err)
	}
}

func TestVTScoreCapped(t *testing.T) {
	if got := vtScore(vtStats{Malicious: 10}); got != 100 {
		t.Errorf("vtScore() = %d, want 100", got)
	}
	if got := vtScore(vtStats{Suspicious: 2}); got != 10 {
		t.Errorf("vtScore() = %d, want 10", got)
	}
}

func TestMetaDefenderResults(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status core.ScanStatus
		score  int
	}{
		{"infected", `{"scan_results":{"scan_all_result_i":1,"scan_all_result_a":"Infected","progress_percentage":100}}`, core.ScanCompleted, 100},
		{"suspicious", `{"scan_results":{"scan_all_result_i":2,"scan_all_result_a":"Suspicious"}}`, core.ScanCompleted, 75},
		{"clean", `{"scan_results":{"scan_all_result_i":0,"scan_all_result_a":"No Threat Detected"}}`, core.ScanCompleted, 0},
		{"failed", `{"scan_results":{"scan_all_result_i":3,"scan_all_result_a":"Failed"}}`, core.ScanFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/hash/deadbeef" || r.Header.Get("apikey") != "key" {
					t.Errorf("unexpected request %s", r.URL.Path)
				}
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			md := NewMetaDefender("key", srv.URL, time.Second, fastPoll, zaptest.NewLogger(t))
			res, err := md.Scan(context.Background(), testFile())
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if res.Status != tt.status || res.Score != tt.score {
				t.Errorf("result = %+v", res)
			}
			if len(res.Evidence) != 1 || !strings.HasPrefix(res.Evidence[0], "MetaDefender: resultado global=") {
				t.Errorf("evidence = %q", res.Evidence)
			}
		})
	}
}

func TestMetaDefenderUploadsUnknownFile(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/hash/deadbeef":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404003}}`)
		case r.URL.Path == "/file" && r.Method == http.MethodPost:
			if r.Header.Get("filename") != "invoice.exe" {
				t.Errorf("filename header = %q", r.Header.Get("filename"))
			}
			fmt.Fprint(w, `{"data_id":"d-1"}`)
		case r.URL.Path == "/file/d-1":
			if atomic.AddInt32(&polls, 1) == 1 {
				fmt.Fprint(w, `{"scan_results":{"scan_all_result_i":255,"progress_percentage":40}}`)
				return
			}
			fmt.Fprint(w, `{"scan_results":{"scan_all_result_i":1,"scan_all_result_a":"Infected","progress_percentage":100}}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	md := NewMetaDefender("key", srv.URL, time.Second, fastPoll, zaptest.NewLogger(t))
	res, err := md.Scan(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if res.Status != core.ScanCompleted || res.Score != 100 {
		t.Errorf("result = %+v", res)
	}
}

func TestDisabledScanner(t *testing.T) {
	res, err := Disabled{}.Scan(context.Background(), testFile())
	if err != nil || res.Status != core.ScanFailed || len(res.Evidence) != 1 {
		t.Errorf("Scan() = %+v, %v", res, err)
	}
}

type countingScanner struct {
	calls  int
	status core.ScanStatus
}

func (c *countingScanner) Name() string { return "counting" }

func (c *countingScanner) Scan(ctx context.Context, file *core.Attachment) (*core.ScanResult, error) {
	c.calls++
	return &core.ScanResult{Status: c.status, Score: 80}, nil
}

func TestCachedScannerReusesCompletedResults(t *testing.T) {
	inner := &countingScanner{status: core.ScanCompleted}
	mc := cache.NewMemoryCache(zaptest.NewLogger(t), 0)
	defer mc.Stop()
	s := NewCached(inner, mc, time.Hour, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		res, err := s.Scan(context.Background(), testFile())
		if err != nil || res.Score != 80 {
			t.Fatalf("Scan() = %+v, %v", res, err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	if s.Name() != "counting" {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestCachedScannerSkipsFailedResults(t *testing.T) {
	inner := &countingScanner{status: core.ScanFailed}
	mc := cache.NewMemoryCache(zaptest.NewLogger(t), 0)
	defer mc.Stop()
	s := NewCached(inner, mc, time.Hour, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		if _, err := s.Scan(context.Background(), testFile()); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}
