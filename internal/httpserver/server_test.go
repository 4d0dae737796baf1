package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimbusops/hiberctl/pkg/orchestrator"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

type fakeScanner struct {
	fullScanResult    orchestrator.ScanResult
	fullScanErr       error
	partialScanResult orchestrator.ScanResult
	partialScanErr    error
	lastScheduleID    string
	lastTenantID      string
}

func (f *fakeScanner) FullScan(ctx context.Context, tenantID string, trigger schedule.TriggerSource) (orchestrator.ScanResult, error) {
	f.lastTenantID = tenantID
	return f.fullScanResult, f.fullScanErr
}

func (f *fakeScanner) PartialScan(ctx context.Context, scheduleID, tenantID string, trigger schedule.TriggerSource, actorIdentity string) (orchestrator.ScanResult, error) {
	f.lastScheduleID = scheduleID
	f.lastTenantID = tenantID
	return f.partialScanResult, f.partialScanErr
}

func newTestServer(scanner Scanner, token string) *Server {
	return NewServer(scanner, prometheus.NewRegistry(), slog.New(slog.DiscardHandler), token)
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer(&fakeScanner{}, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleFullScanWithEmptyBody(t *testing.T) {
	scanner := &fakeScanner{fullScanResult: orchestrator.ScanResult{Success: true, Mode: orchestrator.ModeFull, SchedulesProcessed: 3, Duration: 2 * time.Second}}
	s := newTestServer(scanner, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp scanResultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if !resp.Success || resp.SchedulesProcessed != 3 || resp.DurationMS != 2000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandlePartialScanNotFound(t *testing.T) {
	scanner := &fakeScanner{partialScanErr: &schedule.ScheduleNotFoundError{ScheduleID: "sched-1", TenantID: "tenant-a"}}
	s := newTestServer(scanner, "")

	body := strings.NewReader(`{"tenantId":"tenant-a"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/scans/sched-1", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
	if scanner.lastScheduleID != "sched-1" {
		t.Fatalf("expected scheduleId sched-1 to reach the scanner, got %q", scanner.lastScheduleID)
	}
}

func TestHandlePartialScanRequiresTenantID(t *testing.T) {
	s := newTestServer(&fakeScanner{}, "")

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/scans/sched-1", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", rec.Code, rec.Body.String())
	}
}

func TestSharedSecretAuthRejectsMissingToken(t *testing.T) {
	s := newTestServer(&fakeScanner{}, "super-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
}

func TestSharedSecretAuthAcceptsMatchingToken(t *testing.T) {
	scanner := &fakeScanner{fullScanResult: orchestrator.ScanResult{Success: true}}
	s := newTestServer(scanner, "super-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", nil)
	req.Header.Set("X-Hiberctl-Token", "super-secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestSharedSecretAuthDisabledWhenTokenEmpty(t *testing.T) {
	s := newTestServer(&fakeScanner{}, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", nil)
	req.Header.Set("X-Hiberctl-Token", "anything")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
