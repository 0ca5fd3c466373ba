package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
)

type fakeTurnRunner struct {
	mu      sync.Mutex
	res     *contractx.TurnResult
	err     error
	lastReq contractx.TurnRequest
	calls   int
}

func (f *fakeTurnRunner) HandleTurn(ctx context.Context, req contractx.TurnRequest) (*contractx.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeTurnRunner) lastRequest() contractx.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func (f *fakeTurnRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHealthChecker struct {
	statuses map[contractx.Specialist]error
}

func (f *fakeHealthChecker) Health(ctx context.Context) map[contractx.Specialist]error {
	return f.statuses
}

func newTestServer(t *testing.T, turns contractx.TurnRunner, health contractx.HealthChecker) *httptest.Server {
	t.Helper()
	h, err := New(turns, health)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postSupport(t *testing.T, server *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(server.URL+"/support", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post /support: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSupportEndpoint(t *testing.T) {
	t.Parallel()

	turns := &fakeTurnRunner{res: &contractx.TurnResult{
		ThreadID:             "s-1",
		SessionID:            "s-1",
		FinalAnswer:          "Your order #42 ships tomorrow.",
		Confidence:           0.9,
		SpecialistsConsulted: []contractx.Specialist{contractx.SpecialistOrder},
		Elapsed:              1250 * time.Millisecond,
	}}
	server := newTestServer(t, turns, &fakeHealthChecker{})

	resp := postSupport(t, server, `{
		"customer_message": "where is my order?",
		"session_id": "s-1",
		"customer_id": "c-9",
		"context": {"tier": "gold"}
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}

	var body struct {
		Response             string   `json:"response"`
		Confidence           float64  `json:"confidence"`
		SpecialistsConsulted []string `json:"specialists_consulted"`
		ProcessingTimeMS     int64    `json:"processing_time_ms"`
		SessionID            string   `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Response != "Your order #42 ships tomorrow." {
		t.Fatalf("unexpected response: %q", body.Response)
	}
	if body.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", body.Confidence)
	}
	if len(body.SpecialistsConsulted) != 1 || body.SpecialistsConsulted[0] != "order" {
		t.Fatalf("unexpected specialists: %v", body.SpecialistsConsulted)
	}
	if body.ProcessingTimeMS != 1250 {
		t.Fatalf("expected 1250ms, got %d", body.ProcessingTimeMS)
	}
	if body.SessionID != "s-1" {
		t.Fatalf("unexpected session id: %q", body.SessionID)
	}

	sent := turns.lastRequest()
	if sent.CustomerMessage != "where is my order?" || sent.SessionID != "s-1" || sent.CustomerID != "c-9" {
		t.Fatalf("unexpected turn request: %+v", sent)
	}
	if sent.Context["tier"] != "gold" {
		t.Fatalf("expected context to pass through, got %v", sent.Context)
	}
}

func TestSupportRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	turns := &fakeTurnRunner{res: &contractx.TurnResult{}}
	server := newTestServer(t, turns, &fakeHealthChecker{})

	resp := postSupport(t, server, `{"customer_message": `)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != "invalid JSON body" {
		t.Fatalf("unexpected error payload: %v", body)
	}
	if turns.callCount() != 0 {
		t.Fatalf("expected no turn for malformed input, got %d", turns.callCount())
	}
}

func TestSupportValidationErrorIsBadRequest(t *testing.T) {
	t.Parallel()

	turns := &fakeTurnRunner{err: fmt.Errorf("%w: session id is required", contractx.ErrValidation)}
	server := newTestServer(t, turns, &fakeHealthChecker{})

	resp := postSupport(t, server, `{"customer_message": "hi"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(body["error"], "session id is required") {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestSupportCancelledTurnIsUnavailable(t *testing.T) {
	t.Parallel()

	turns := &fakeTurnRunner{err: context.Canceled}
	server := newTestServer(t, turns, &fakeHealthChecker{})

	resp := postSupport(t, server, `{"customer_message": "hi", "session_id": "s-1"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestSupportDegradesOnInternalError(t *testing.T) {
	t.Parallel()

	turns := &fakeTurnRunner{err: errors.New("store exploded")}
	server := newTestServer(t, turns, &fakeHealthChecker{})

	resp := postSupport(t, server, `{"customer_message": "hi", "session_id": "s-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected degraded 200, got %d", resp.StatusCode)
	}

	var body struct {
		Response             string   `json:"response"`
		Confidence           float64  `json:"confidence"`
		SpecialistsConsulted []string `json:"specialists_consulted"`
		SessionID            string   `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Response != degradedAnswer {
		t.Fatalf("expected degraded answer, got %q", body.Response)
	}
	if body.Confidence != 0.1 {
		t.Fatalf("expected confidence 0.1, got %v", body.Confidence)
	}
	if body.SpecialistsConsulted == nil || len(body.SpecialistsConsulted) != 0 {
		t.Fatalf("expected empty specialist list, got %v", body.SpecialistsConsulted)
	}
	if body.SessionID != "s-1" {
		t.Fatalf("expected session id echoed, got %q", body.SessionID)
	}
}

func TestSupportRejectsWrongMethod(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeTurnRunner{res: &contractx.TurnResult{}}, &fakeHealthChecker{})

	resp, err := http.Get(server.URL + "/support")
	if err != nil {
		t.Fatalf("get /support: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	health := &fakeHealthChecker{statuses: map[contractx.Specialist]error{
		contractx.SpecialistOrder:   nil,
		contractx.SpecialistProduct: errors.New("connection refused"),
	}}
	server := newTestServer(t, &fakeTurnRunner{res: &contractx.TurnResult{}}, health)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status      string            `json:"status"`
		Specialists map[string]string `json:"specialists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("expected degraded status, got %q", body.Status)
	}
	if body.Specialists["order"] != "healthy" || body.Specialists["product"] != "unreachable" {
		t.Fatalf("unexpected specialist statuses: %v", body.Specialists)
	}
}

func TestHealthEndpointAllHealthy(t *testing.T) {
	t.Parallel()

	health := &fakeHealthChecker{statuses: map[contractx.Specialist]error{
		contractx.SpecialistOrder: nil,
	}}
	server := newTestServer(t, &fakeTurnRunner{res: &contractx.TurnResult{}}, health)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected ok status, got %q", body.Status)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeHealthChecker{}); err == nil {
		t.Fatal("expected error for nil turn runner")
	}
	if _, err := New(&fakeTurnRunner{}, nil); err == nil {
		t.Fatal("expected error for nil health checker")
	}
}
