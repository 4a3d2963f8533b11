package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matheus3301/replywatch/internal/scheduler"
	"github.com/matheus3301/replywatch/internal/store"
	"go.uber.org/zap"
)

type fakeScheduler struct {
	busy       bool
	status     scheduler.Status
	updateErr  error
	enableErr  error
	triggered  int
	lastUpdate string
}

func (f *fakeScheduler) Trigger(reason string) bool {
	f.triggered++
	return !f.busy
}

func (f *fakeScheduler) Enable() error  { return f.enableErr }
func (f *fakeScheduler) Disable() error { return nil }

func (f *fakeScheduler) UpdateSchedule(expr string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.lastUpdate = expr
	f.status.Expression = expr
	return nil
}

func (f *fakeScheduler) Snapshot() scheduler.Status { return f.status }

type fakeRunStore struct {
	runs   []store.Run
	latest *store.Run
	err    error
}

func (f *fakeRunStore) ListRuns(limit int) ([]store.Run, error) { return f.runs, f.err }

func (f *fakeRunStore) GetRun(runID string) (*store.Run, error) {
	for i := range f.runs {
		if f.runs[i].RunID == runID {
			return &f.runs[i], nil
		}
	}
	return nil, f.err
}

func (f *fakeRunStore) LatestRun() (*store.Run, error) { return f.latest, f.err }

type fakeResender struct {
	run *store.Run
	err error
}

func (f *fakeResender) ResendLatestReport(ctx context.Context) (*store.Run, error) {
	return f.run, f.err
}

func testServer(sched *fakeScheduler, runs *fakeRunStore, resender *fakeResender) *Server {
	return New(sched, runs, resender, zap.NewNop())
}

func request(t *testing.T, s *Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	s := testServer(&fakeScheduler{}, &fakeRunStore{}, &fakeResender{})
	resp, body := request(t, s, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz: %d %v", resp.StatusCode, body)
	}
}

func TestTriggerRun(t *testing.T) {
	sched := &fakeScheduler{}
	s := testServer(sched, &fakeRunStore{}, &fakeResender{})

	resp, body := request(t, s, http.MethodPost, "/api/runs", "")
	if resp.StatusCode != http.StatusAccepted || body["started"] != true {
		t.Errorf("trigger: %d %v", resp.StatusCode, body)
	}

	sched.busy = true
	resp, body = request(t, s, http.MethodPost, "/api/runs", "")
	if resp.StatusCode != http.StatusConflict || body["started"] != false {
		t.Errorf("overlapping trigger: %d %v", resp.StatusCode, body)
	}
}

func TestListAndGetRuns(t *testing.T) {
	runs := &fakeRunStore{runs: []store.Run{
		{RunID: "r2", Trigger: store.TriggerManual, Status: store.RunStatusSuccess},
		{RunID: "r1", Trigger: store.TriggerSchedule, Status: store.RunStatusPartial, ErrorDetail: "deliver: refused"},
	}}
	s := testServer(&fakeScheduler{}, runs, &fakeResender{})

	resp, body := request(t, s, http.MethodGet, "/api/runs", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	list, ok := body["runs"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("runs payload: %v", body)
	}

	resp, body = request(t, s, http.MethodGet, "/api/runs/r1", "")
	if resp.StatusCode != http.StatusOK || body["error_detail"] != "deliver: refused" {
		t.Errorf("get run: %d %v", resp.StatusCode, body)
	}

	resp, _ = request(t, s, http.MethodGet, "/api/runs/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run: %d", resp.StatusCode)
	}
}

func TestLatestRun(t *testing.T) {
	s := testServer(&fakeScheduler{}, &fakeRunStore{}, &fakeResender{})
	resp, _ := request(t, s, http.MethodGet, "/api/runs/latest", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("no runs yet: %d", resp.StatusCode)
	}

	s = testServer(&fakeScheduler{}, &fakeRunStore{latest: &store.Run{RunID: "r9", Status: store.RunStatusSuccess}}, &fakeResender{})
	resp, body := request(t, s, http.MethodGet, "/api/runs/latest", "")
	if resp.StatusCode != http.StatusOK || body["run_id"] != "r9" {
		t.Errorf("latest: %d %v", resp.StatusCode, body)
	}
}

func TestPutSchedule(t *testing.T) {
	sched := &fakeScheduler{status: scheduler.Status{State: scheduler.StateDisabled, Expression: "0 9 * * *"}}
	s := testServer(sched, &fakeRunStore{}, &fakeResender{})

	resp, _ := request(t, s, http.MethodPut, "/api/schedule", `{"expression":"30 8 * * 1-5","enabled":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put schedule: %d", resp.StatusCode)
	}
	if sched.lastUpdate != "30 8 * * 1-5" {
		t.Errorf("expression not forwarded: %q", sched.lastUpdate)
	}

	sched.updateErr = &scheduler.InvalidScheduleError{Expr: "junk", Err: errors.New("parse")}
	resp, body := request(t, s, http.MethodPut, "/api/schedule", `{"expression":"junk"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid expression: %d %v", resp.StatusCode, body)
	}

	resp, _ = request(t, s, http.MethodPut, "/api/schedule", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty update: %d", resp.StatusCode)
	}
}

func TestResend(t *testing.T) {
	s := testServer(&fakeScheduler{}, &fakeRunStore{}, &fakeResender{run: &store.Run{RunID: "r5"}})
	resp, body := request(t, s, http.MethodPost, "/api/reports/resend", "")
	if resp.StatusCode != http.StatusOK || body["run_id"] != "r5" {
		t.Errorf("resend: %d %v", resp.StatusCode, body)
	}

	s = testServer(&fakeScheduler{}, &fakeRunStore{}, &fakeResender{err: errors.New("no report available to resend")})
	resp, _ = request(t, s, http.MethodPost, "/api/reports/resend", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resend without report: %d", resp.StatusCode)
	}
}
