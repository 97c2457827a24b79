package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lifeos/internal/ingest"
	"lifeos/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIngester struct {
	snap    models.Snapshot
	loaded  bool
	loadErr error
	loads   int
}

func (f *fakeIngester) LoadAll(context.Context) (models.Snapshot, error) {
	f.loads++
	if f.loadErr != nil {
		return models.Snapshot{}, f.loadErr
	}
	f.snap.LoadedAt = f.snap.LoadedAt.Add(time.Minute)
	f.loaded = true
	return f.snap, nil
}

func (f *fakeIngester) Snapshot() (models.Snapshot, bool) { return f.snap, f.loaded }

func (f *fakeIngester) UpdateThreadStatus(id string, status models.MessageStatus) (models.EmailThread, error) {
	if !status.Valid() {
		return models.EmailThread{}, ingest.ErrInvalidStatus
	}
	if !f.loaded {
		return models.EmailThread{}, ingest.ErrNotLoaded
	}
	for i := range f.snap.Threads {
		if f.snap.Threads[i].ID == id {
			f.snap.Threads[i].Status = status
			return f.snap.Threads[i], nil
		}
	}
	return models.EmailThread{}, ingest.ErrThreadNotFound
}

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Analyze(_ context.Context, events []models.CalendarEvent, _ []models.EmailThread) models.LifeAnalysis {
	f.calls++
	return models.LifeAnalysis{KeyInsights: []string{fmt.Sprintf("events: %d", len(events))}}
}

func sampleSnapshot() models.Snapshot {
	return models.Snapshot{
		Events:   []models.CalendarEvent{{ID: "e1", Title: "Standup"}},
		Threads:  []models.EmailThread{{ID: "t1", Subject: "Launch", Status: models.StatusUnread}},
		LoadedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	h := NewServer(testLogger(), &fakeIngester{}, nil).Router()
	rr := do(t, h, http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		ingester *fakeIngester
		want     int
	}{
		{"not loaded", &fakeIngester{}, http.StatusServiceUnavailable},
		{"loaded", &fakeIngester{snap: sampleSnapshot(), loaded: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, NewServer(testLogger(), tt.ingester, nil).Router(), http.MethodGet, "/api/snapshot")
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
			if tt.want != http.StatusOK {
				return
			}
			var snap models.Snapshot
			if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
				t.Fatal(err)
			}
			if len(snap.Events) != 1 || snap.Threads[0].Subject != "Launch" {
				t.Errorf("snapshot = %+v", snap)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	ing := &fakeIngester{snap: sampleSnapshot()}
	h := NewServer(testLogger(), ing, nil).Router()

	rr := do(t, h, http.MethodPost, "/api/refresh")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ing.loads != 1 {
		t.Errorf("loads = %d, want 1", ing.loads)
	}

	ing.loadErr = errors.New("failed to list mail threads: boom")
	rr = do(t, h, http.MethodPost, "/api/refresh")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "boom") {
		t.Errorf("body = %q, want error message", rr.Body.String())
	}

	if rr := do(t, h, http.MethodGet, "/api/refresh"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rr.Code)
	}
}

func TestAnalysisCachedPerSnapshot(t *testing.T) {
	ing := &fakeIngester{snap: sampleSnapshot(), loaded: true}
	sum := &fakeSummarizer{}
	h := NewServer(testLogger(), ing, sum).Router()

	for range 2 {
		rr := do(t, h, http.MethodGet, "/api/analysis")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		var got models.LifeAnalysis
		if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if len(got.KeyInsights) != 1 || got.KeyInsights[0] != "events: 1" {
			t.Errorf("analysis = %+v", got)
		}
	}
	if sum.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", sum.calls)
	}

	do(t, h, http.MethodPost, "/api/refresh")
	do(t, h, http.MethodGet, "/api/analysis")
	if sum.calls != 2 {
		t.Errorf("summarizer calls after refresh = %d, want 2", sum.calls)
	}
}

func TestAnalysisUnavailable(t *testing.T) {
	if rr := do(t, NewServer(testLogger(), &fakeIngester{snap: sampleSnapshot(), loaded: true}, nil).Router(), http.MethodGet, "/api/analysis"); rr.Code != http.StatusNotFound {
		t.Errorf("no summarizer: status = %d, want 404", rr.Code)
	}
	if rr := do(t, NewServer(testLogger(), &fakeIngester{}, &fakeSummarizer{}).Router(), http.MethodGet, "/api/analysis"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("not loaded: status = %d, want 503", rr.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := NewServer(testLogger(), &fakeIngester{}, nil).Router()
	do(t, h, http.MethodGet, "/healthz")
	rr := do(t, h, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "lifeos_http_requests_total") {
		t.Error("metrics output does not include request counter")
	}
}

func TestSetThreadStatus(t *testing.T) {
	tests := []struct {
		name       string
		loaded     bool
		path       string
		body       string
		wantCode   int
		wantStatus models.MessageStatus
	}{
		{"mark replied", true, "/api/threads/t1/status", `{"status":"REPLIED"}`, http.StatusOK, models.StatusReplied},
		{"mark needs reply", true, "/api/threads/t1/status", `{"status":"NEEDS_REPLY"}`, http.StatusOK, models.StatusNeedsReply},
		{"unknown status", true, "/api/threads/t1/status", `{"status":"ARCHIVED"}`, http.StatusBadRequest, models.StatusUnread},
		{"malformed body", true, "/api/threads/t1/status", `{"status":`, http.StatusBadRequest, models.StatusUnread},
		{"unknown thread", true, "/api/threads/t9/status", `{"status":"REPLIED"}`, http.StatusNotFound, models.StatusUnread},
		{"not loaded", false, "/api/threads/t1/status", `{"status":"REPLIED"}`, http.StatusServiceUnavailable, models.StatusUnread},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{snap: sampleSnapshot(), loaded: tt.loaded}
			h := NewServer(testLogger(), ing, nil).Router()

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			if rr.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if got := ing.snap.Threads[0].Status; got != tt.wantStatus {
				t.Errorf("thread status = %s, want %s", got, tt.wantStatus)
			}
			if rr.Code != http.StatusOK {
				return
			}
			var thread models.EmailThread
			if err := json.NewDecoder(rr.Body).Decode(&thread); err != nil {
				t.Fatal(err)
			}
			if thread.ID != "t1" || thread.Status != tt.wantStatus {
				t.Errorf("response = %s %s", thread.ID, thread.Status)
			}
		})
	}
}

func TestSetThreadStatusInvalidatesAnalysis(t *testing.T) {
	ing := &fakeIngester{snap: sampleSnapshot(), loaded: true}
	sum := &fakeSummarizer{}
	h := NewServer(testLogger(), ing, sum).Router()

	do(t, h, http.MethodGet, "/api/analysis")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/threads/t1/status", strings.NewReader(`{"status":"REPLIED"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status update code = %d", rr.Code)
	}
	do(t, h, http.MethodGet, "/api/analysis")
	if sum.calls != 2 {
		t.Errorf("summarizer calls = %d, want 2", sum.calls)
	}
}
