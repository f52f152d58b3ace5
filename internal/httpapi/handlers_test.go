package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/bulk"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/dispatcher"
	"dialer-platform/internal/lease"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/retry"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/transcripts"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	store  *calls.MemoryStore
	audits *audit.MemoryRepo
	queue  *retry.MemoryQueue
	router *gin.Engine
}

func newAPI(t *testing.T, lock lease.Locker) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		store:  calls.NewMemoryStore(),
		audits: audit.NewMemoryRepo(),
		queue:  retry.NewMemoryQueue(),
	}
	disp := dispatcher.New(f.store, telephony.NewSimulatedProvider(), dispatcher.Config{FromNumber: "+15555550000", PublicBaseURL: "https://dialer.test"}, nil)
	sched := retry.NewScheduler(f.store, f.queue, disp, retry.DefaultPolicy(), nil)
	tsvc := transcripts.NewService(f.store)

	h := Handlers{
		Contacts:    f.store,
		Calls:       disp,
		Batches:     bulk.NewSequencer(f.store, disp, lock, nil, bulk.WithPacing(0)),
		Retries:     sched,
		Transcripts: tsvc,
		Reports:     reporting.NewService(f.store, sched, tsvc, disp.InFlight()),
		Audit:       audit.NewService(f.audits),
	}

	r := gin.New()
	v1 := r.Group("/v1")
	// Stand-in for auth.RequireAccessToken: the role comes from a test header.
	v1.Use(func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: "tester", Role: c.GetHeader("X-Test-Role")})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	h.Register(v1)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, role, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Test-Role", role)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (f *apiFixture) seedCall(t *testing.T, id, phone string, status calls.Status) {
	t.Helper()
	contact, err := calls.NewContact(phone, "Seed", time.Now())
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	contact, err = f.store.CreateContact(context.Background(), contact)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	now := time.Now().UTC()
	c := calls.Call{ID: id, ContactID: contact.ID, ProviderRef: "CA" + id, Status: status, StartTime: now, CreatedAt: now, UpdatedAt: now}
	if status.IsTerminal() {
		c.EndTime = &now
	}
	if err := f.store.CreateCall(context.Background(), c); err != nil {
		t.Fatalf("seed call: %v", err)
	}
}

func TestContactsAndBatchDispatch(t *testing.T) {
	f := newAPI(t, nil)

	code, body := f.do(t, "operator", http.MethodPost, "/v1/contacts", map[string]string{"phone": "+1 555 555 0100", "name": "Ada"})
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", code, body)
	}
	contactID := body["contact"].(map[string]any)["id"].(string)

	code, _ = f.do(t, "operator", http.MethodPost, "/v1/contacts", map[string]string{"phone": "+15555550100"})
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate phone, got %d", code)
	}
	code, _ = f.do(t, "operator", http.MethodPost, "/v1/contacts", map[string]string{"phone": "5550100"})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad phone, got %d", code)
	}

	code, body = f.do(t, "operator", http.MethodPost, "/v1/calls/batch", map[string]any{
		"contact_ids":   []string{contactID, "missing"},
		"call_script":   "Hello there",
		"delay_seconds": 0,
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["successful"].(float64) != 1 || body["failed"].(float64) != 1 {
		t.Fatalf("unexpected batch summary: %v", body)
	}
	results := body["results"].([]any)
	callID := results[0].(map[string]any)["call_id"].(string)

	code, body = f.do(t, "viewer", http.MethodGet, "/v1/calls/"+callID, nil)
	if code != http.StatusOK || body["in_flight"] != true {
		t.Fatalf("unexpected call detail %d: %v", code, body)
	}
	code, _ = f.do(t, "viewer", http.MethodGet, "/v1/calls/nope", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	code, body = f.do(t, "viewer", http.MethodGet, "/v1/calls/active", nil)
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("unexpected active calls %d: %v", code, body)
	}

	code, body = f.do(t, "operator", http.MethodPost, "/v1/calls/"+callID+"/cancel", nil)
	if code != http.StatusOK {
		t.Fatalf("expected cancel 200, got %d: %v", code, body)
	}
	code, _ = f.do(t, "operator", http.MethodPost, "/v1/calls/"+callID+"/cancel", nil)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for ended call, got %d", code)
	}

	var types []audit.EventType
	for _, e := range f.audits.Events() {
		types = append(types, e.Type)
		if e.ActorUserID != "tester" || e.ActorRole != "operator" || e.IPAddress == "" {
			t.Fatalf("audit event missing actor: %+v", e)
		}
	}
	if len(types) != 3 || types[0] != audit.EventContactCreated || types[1] != audit.EventBatchDispatched || types[2] != audit.EventCallCanceled {
		t.Fatalf("unexpected audit trail: %v", types)
	}

	code, body = f.do(t, "viewer", http.MethodGet, "/v1/calls/"+callID+"/audit", nil)
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("unexpected call audit %d: %v", code, body)
	}
	ev := body["events"].([]any)[0].(map[string]any)
	if ev["type"] != string(audit.EventCallCanceled) || ev["call_id"] != callID {
		t.Fatalf("unexpected audit event %v", ev)
	}
}

func TestBatch_Validation(t *testing.T) {
	f := newAPI(t, nil)

	code, body := f.do(t, "operator", http.MethodPost, "/v1/calls/batch", map[string]any{"contact_ids": []string{}})
	if code != http.StatusBadRequest || body["message"] != "No contacts selected" {
		t.Fatalf("unexpected %d: %v", code, body)
	}
	code, _ = f.do(t, "viewer", http.MethodPost, "/v1/calls/batch", map[string]any{"contact_ids": []string{"a"}})
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", code)
	}
	code, _ = f.do(t, "operator", http.MethodPost, "/v1/calls/batch", map[string]any{"contact_ids": []string{"a"}, "delay_seconds": -1})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative delay, got %d", code)
	}
	code, _ = f.do(t, "operator", http.MethodPost, "/v1/calls/batch", map[string]any{"contact_ids": []string{"a"}, "delay_seconds": 1e19})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for overflowing delay, got %d", code)
	}
}

func TestBatch_ConcurrentRejected(t *testing.T) {
	lock := lease.NewMemoryLock()
	held, err := lock.TryLock(context.Background())
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer func() { _ = held.Release(context.Background()) }()

	f := newAPI(t, lock)
	code, body := f.do(t, "operator", http.MethodPost, "/v1/calls/batch", map[string]any{"contact_ids": []string{"a"}})
	if code != http.StatusConflict || body["message"] != bulk.InProgressMessage {
		t.Fatalf("expected 409 in-progress, got %d: %v", code, body)
	}
	if n := len(f.audits.Events()); n != 0 {
		t.Fatalf("rejected batch must not be audited, got %d events", n)
	}
}

func TestRetryEndpoints(t *testing.T) {
	f := newAPI(t, nil)
	f.seedCall(t, "c1", "+15555550101", calls.StatusNoAnswer)
	f.seedCall(t, "c2", "+15555550102", calls.StatusCompleted)

	code, body := f.do(t, "operator", http.MethodPost, "/v1/retries/c1/schedule", map[string]any{"delay_minutes": 1})
	if code != http.StatusOK || body["attempt_number"].(float64) != 1 {
		t.Fatalf("unexpected schedule %d: %v", code, body)
	}
	e, ok, _ := f.queue.Get(context.Background(), "c1")
	if !ok || e.Attempt != 1 {
		t.Fatalf("expected queued attempt 1, got %+v ok=%v", e, ok)
	}

	code, _ = f.do(t, "operator", http.MethodPost, "/v1/retries/c2/schedule", nil)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for completed call, got %d", code)
	}
	code, _ = f.do(t, "operator", http.MethodPost, "/v1/retries/zz/schedule", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	code, body = f.do(t, "viewer", http.MethodGet, "/v1/retries/c1", nil)
	if code != http.StatusOK || body["retry_scheduled"] != true {
		t.Fatalf("unexpected status %d: %v", code, body)
	}
	code, body = f.do(t, "viewer", http.MethodGet, "/v1/retries/zz", nil)
	if code != http.StatusOK || body["call_found"] != false {
		t.Fatalf("expected 200 with call_found=false, got %d: %v", code, body)
	}
	code, _ = f.do(t, "operator", http.MethodPost, "/v1/retries/zz/schedule", map[string]any{"delay_minutes": 1e300})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for huge delay, got %d", code)
	}

	code, body = f.do(t, "operator", http.MethodDelete, "/v1/retries/c1", nil)
	if code != http.StatusOK {
		t.Fatalf("expected cancel 200, got %d: %v", code, body)
	}
	code, _ = f.do(t, "operator", http.MethodDelete, "/v1/retries/c1", nil)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 when nothing queued, got %d", code)
	}

	code, body = f.do(t, "operator", http.MethodPost, "/v1/retries/failed", map[string]any{"status_filter": []string{"no_answer"}})
	if code != http.StatusOK || body["scheduled"].(float64) != 1 {
		t.Fatalf("unexpected retry-failed %d: %v", code, body)
	}
	code, _ = f.do(t, "operator", http.MethodPost, "/v1/retries/failed", map[string]any{"status_filter": []string{"weird"}})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", code)
	}

	code, body = f.do(t, "viewer", http.MethodGet, "/v1/retries/summary", nil)
	if code != http.StatusOK || body["scheduled_retries"].(float64) != 1 {
		t.Fatalf("unexpected summary %d: %v", code, body)
	}
}

func TestRetryConfig_AdminOnly(t *testing.T) {
	f := newAPI(t, nil)

	code, _ := f.do(t, "operator", http.MethodPut, "/v1/retries/config", map[string]any{"max_attempts": 5})
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	code, body := f.do(t, "admin", http.MethodPut, "/v1/retries/config", map[string]any{"max_attempts": 5, "retry_delay_seconds": 60})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	cfg := body["config"].(map[string]any)
	if cfg["max_retries"].(float64) != 5 || cfg["retry_delay_seconds"].(float64) != 60 {
		t.Fatalf("unexpected config: %v", cfg)
	}
	code, _ = f.do(t, "admin", http.MethodPut, "/v1/retries/config", map[string]any{"max_attempts": -1})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid config, got %d", code)
	}
}

func TestTranscriptsAndReports(t *testing.T) {
	f := newAPI(t, nil)
	f.seedCall(t, "c1", "+15555550101", calls.StatusCompleted)
	if err := f.store.CreateTranscript(context.Background(), calls.Transcript{ID: "t1", CallID: "c1", Text: "Thanks for calling back", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("transcript: %v", err)
	}

	code, body := f.do(t, "viewer", http.MethodGet, "/v1/transcripts?search=calling", nil)
	if code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("unexpected search %d: %v", code, body)
	}
	code, body = f.do(t, "viewer", http.MethodGet, "/v1/transcripts?search=zebra", nil)
	if code != http.StatusOK || body["count"].(float64) != 0 {
		t.Fatalf("unexpected empty search %d: %v", code, body)
	}
	code, _ = f.do(t, "viewer", http.MethodGet, "/v1/transcripts/c1", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	code, _ = f.do(t, "viewer", http.MethodGet, "/v1/transcripts/c9", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	code, _ = f.do(t, "viewer", http.MethodGet, "/v1/transcripts?limit=abc", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}

	code, body = f.do(t, "viewer", http.MethodGet, "/v1/reports/summary", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["calls"].(map[string]any)["completed_calls"].(float64) != 1 || body["transcripts"].(map[string]any)["total_transcripts"].(float64) != 1 {
		t.Fatalf("unexpected dashboard: %v", body)
	}
}
