package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
	"clinicq/internal/orchestrator"
	"clinicq/internal/store"
	"clinicq/internal/store/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

var (
	patient = orchestrator.Actor{ID: "pat-1", Role: orchestrator.RolePatient}
	doctor  = orchestrator.Actor{ID: "doc-1", Role: orchestrator.RoleDoctor}
	admin   = orchestrator.Actor{ID: "adm-1", Role: orchestrator.RoleAdmin}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

type testServer struct {
	t     *testing.T
	http  http.Handler
	auth  *Authenticator
	clock *testClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := &testClock{t: at(7, 0)}
	svc := orchestrator.New(memory.New(), orchestrator.Options{
		Logger: zerolog.Nop(),
		Now:    clk.Now,
	})
	t.Cleanup(svc.Wait)
	auth := NewAuthenticator(AuthConfig{Secret: testSecret})
	handler := Wrap(NewHandler(svc, zerolog.Nop()).Routes(), ServerConfig{
		Auth:      auth,
		RateLimit: RateLimitConfig{IPPerMinute: 6000, IPBurst: 1000, ActorPerMinute: 6000, ActorBurst: 1000},
		Logger:    zerolog.Nop(),
	})
	return &testServer{t: t, http: handler, auth: auth, clock: clk}
}

func (s *testServer) do(actor *orchestrator.Actor, method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := s.auth.Issue(*actor, time.Hour)
		if err != nil {
			s.t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code, guard string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Error.Code != code || resp.Error.Guard != guard {
		t.Fatalf("expected %s/%q, got %+v", code, guard, resp.Error)
	}
}

func bookAt(t *testing.T, s *testServer, date time.Time) models.Appointment {
	t.Helper()
	rec := s.do(&patient, http.MethodPost, "/api/appointments", map[string]interface{}{
		"doctor_id":        doctor.ID,
		"appointment_date": date.Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}
	var appt models.Appointment
	decode(t, rec, &appt)
	return appt
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(nil, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(nil, http.MethodGet, "/api/appointments/whatever", nil)
	expectError(t, rec, http.StatusUnauthorized, "unauthorized", "")
}

func TestConsultationFlow(t *testing.T) {
	s := newTestServer(t)
	appt := bookAt(t, s, at(10, 0))
	if appt.Status != models.AppointmentScheduled || appt.PatientID != patient.ID {
		t.Fatalf("unexpected booking %+v", appt)
	}

	rec := s.do(&patient, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/actions/check-in", map[string]string{"department": "general"})
	expectError(t, rec, http.StatusConflict, "guard_violation", lifecycle.GuardCheckInWindow)

	s.clock.Set(at(9, 30))
	rec = s.do(&patient, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/actions/check-in", map[string]string{"department": "general"})
	if rec.Code != http.StatusOK {
		t.Fatalf("check in: %d %s", rec.Code, rec.Body.String())
	}
	var checkedIn checkInResponse
	decode(t, rec, &checkedIn)
	if checkedIn.Entry.Status != models.QueueWaiting || checkedIn.Entry.Position != 1 {
		t.Fatalf("unexpected entry %+v", checkedIn.Entry)
	}

	rec = s.do(&doctor, http.MethodPost, "/api/queue/actions/call-next", map[string]string{"department": "general"})
	if rec.Code != http.StatusOK {
		t.Fatalf("call next: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(&doctor, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/actions/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(&doctor, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/actions/complete", nil)
	expectError(t, rec, http.StatusConflict, "guard_violation", lifecycle.GuardDiagnosisRequired)

	rec = s.do(&doctor, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/actions/notes", models.ClinicalNotes{Diagnosis: "common cold"})
	if rec.Code != http.StatusOK {
		t.Fatalf("notes: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(&doctor, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/actions/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	var visit orchestrator.Visit
	decode(t, rec, &visit)
	if visit.Appointment == nil || visit.Appointment.Status != models.AppointmentCompleted {
		t.Fatalf("expected completed appointment, got %+v", visit.Appointment)
	}
	if visit.Entry == nil || visit.Entry.Status != models.QueueCompleted {
		t.Fatalf("expected completed entry, got %+v", visit.Entry)
	}

	rec = s.do(&admin, http.MethodGet, "/api/events?after=0&limit=50", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: %d %s", rec.Code, rec.Body.String())
	}
	var feed struct {
		Events []store.OutboxEvent `json:"events"`
	}
	decode(t, rec, &feed)
	for i, ev := range feed.Events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("outbox sequence has a gap at %d: %d", i, ev.Seq)
		}
	}
	if len(feed.Events) == 0 {
		t.Fatalf("expected outbox events")
	}
}

func TestEligibility(t *testing.T) {
	s := newTestServer(t)
	appt := bookAt(t, s, at(10, 0))
	rec := s.do(&patient, http.MethodGet, "/api/appointments/"+appt.AppointmentID+"/eligibility", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("eligibility: %d %s", rec.Code, rec.Body.String())
	}
	var resp eligibilityResponse
	decode(t, rec, &resp)
	checks := map[string]lifecycle.ActionCheck{}
	for _, c := range resp.Actions {
		checks[c.Action] = c
	}
	if c := checks[lifecycle.ActionConfirm]; !c.Allowed {
		t.Fatalf("expected confirm allowed, got %+v", c)
	}
	if c := checks[lifecycle.ActionCheckIn]; c.Allowed || c.Guard != lifecycle.GuardCheckInWindow {
		t.Fatalf("expected check-in blocked by window, got %+v", c)
	}
}

func TestRequestErrors(t *testing.T) {
	s := newTestServer(t)
	appt := bookAt(t, s, at(10, 0))

	tests := []struct {
		name   string
		actor  *orchestrator.Actor
		method string
		path   string
		body   interface{}
		status int
		code   string
		guard  string
	}{
		{"unknown field", &patient, http.MethodPost, "/api/appointments", map[string]string{"bogus": "x"}, http.StatusBadRequest, "invalid_json", ""},
		{"bad date", &patient, http.MethodPost, "/api/appointments", map[string]string{"appointment_date": "tomorrow"}, http.StatusBadRequest, "invalid_request", ""},
		{"invalid type", &patient, http.MethodPost, "/api/appointments", map[string]string{"appointment_date": at(11, 0).Format(time.RFC3339), "type": "surgery"}, http.StatusBadRequest, "invalid_request", lifecycle.GuardInvalidType},
		{"in the past", &patient, http.MethodPost, "/api/appointments", map[string]string{"appointment_date": at(6, 0).Format(time.RFC3339)}, http.StatusConflict, "guard_violation", lifecycle.GuardInPast},
		{"not found", &admin, http.MethodGet, "/api/appointments/missing", nil, http.StatusNotFound, "appointment_not_found", ""},
		{"entry not found", &admin, http.MethodGet, "/api/queue/missing", nil, http.StatusNotFound, "entry_not_found", ""},
		{"other patient", &orchestrator.Actor{ID: "pat-2", Role: orchestrator.RolePatient}, http.MethodGet, "/api/appointments/" + appt.AppointmentID, nil, http.StatusForbidden, "access_denied", ""},
		{"patient calls", &patient, http.MethodPost, "/api/queue/actions/call-next", map[string]string{"department": "general"}, http.StatusForbidden, "access_denied", ""},
		{"empty queue", &doctor, http.MethodPost, "/api/queue/actions/call-next", map[string]string{"department": "general"}, http.StatusNotFound, "queue_empty", ""},
		{"events for admins", &doctor, http.MethodGet, "/api/events", nil, http.StatusForbidden, "access_denied", ""},
		{"bad limit", &admin, http.MethodGet, "/api/events?limit=0", nil, http.StatusBadRequest, "invalid_request", ""},
		{"reschedule date", &patient, http.MethodPost, "/api/appointments/" + appt.AppointmentID + "/actions/reschedule", map[string]string{"appointment_date": ""}, http.StatusBadRequest, "invalid_request", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(tc.actor, tc.method, tc.path, tc.body)
			expectError(t, rec, tc.status, tc.code, tc.guard)
		})
	}
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodPost, "/api/appointments/x/actions/teleport", http.StatusNotFound},
		{http.MethodGet, "/api/appointments/x/actions/confirm", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/queue", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/queue/x/actions/teleport", http.StatusNotFound},
		{http.MethodGet, "/api/queue/x/a/b/c", http.StatusNotFound},
	}
	for _, tc := range tests {
		rec := s.do(&admin, tc.method, tc.path, nil)
		if rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
	}
}

func TestWalkInAndBoard(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(&patient, http.MethodPost, "/api/queue", map[string]interface{}{"department": "general", "request_id": "walk-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("walk in: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(&admin, http.MethodPost, "/api/queue", map[string]interface{}{"patient_id": "pat-2", "department": "general", "is_emergency": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("walk in: %d %s", rec.Code, rec.Body.String())
	}
	other := orchestrator.Actor{ID: "pat-3", Role: orchestrator.RolePatient}
	rec = s.do(&other, http.MethodPost, "/api/queue", map[string]interface{}{"department": "general", "request_id": "walk-1"})
	expectError(t, rec, http.StatusConflict, "request_id_conflict", "")

	rec = s.do(&patient, http.MethodGet, "/api/queue?department=general", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("board: %d %s", rec.Code, rec.Body.String())
	}
	var board orchestrator.QueueBoard
	decode(t, rec, &board)
	if len(board.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(board.Entries))
	}
	first := board.Entries[0]
	if !first.IsEmergency || first.PatientID != "" || first.Position != 1 {
		t.Fatalf("expected redacted emergency first, got %+v", first)
	}
	if board.Entries[1].PatientID != patient.ID || board.Entries[1].Position != 2 {
		t.Fatalf("expected own entry second, got %+v", board.Entries[1])
	}

	rec = s.do(&patient, http.MethodGet, "/api/queue", nil)
	expectError(t, rec, http.StatusBadRequest, "invalid_request", lifecycle.GuardInvalidDepartment)

	rec = s.do(&admin, http.MethodGet, "/api/queue/stats?department=general", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", rec.Code, rec.Body.String())
	}
	var stats orchestrator.DepartmentStats
	decode(t, rec, &stats)
	if stats.Total != 2 || stats.ByStatus[models.QueueWaiting] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCallOutOfOrderRequiresReason(t *testing.T) {
	s := newTestServer(t)
	var ids []string
	for i := 0; i < 2; i++ {
		actor := orchestrator.Actor{ID: fmt.Sprintf("pat-%d", i), Role: orchestrator.RolePatient}
		rec := s.do(&actor, http.MethodPost, "/api/queue", map[string]string{"department": "general"})
		var entry models.QueueEntry
		decode(t, rec, &entry)
		ids = append(ids, entry.EntryID)
	}
	path := "/api/queue/" + ids[1] + "/actions/call"
	expectError(t, s.do(&doctor, http.MethodPost, path, nil), http.StatusConflict, "guard_violation", lifecycle.GuardNotFirstInOrder)
	expectError(t, s.do(&doctor, http.MethodPost, path, callRequest{Override: true}), http.StatusBadRequest, "invalid_request", lifecycle.GuardReasonRequired)

	rec := s.do(&doctor, http.MethodPost, path, callRequest{Override: true, Reason: "interpreter available"})
	if rec.Code != http.StatusOK {
		t.Fatalf("override call: %d %s", rec.Code, rec.Body.String())
	}
	var entry models.QueueEntry
	decode(t, rec, &entry)
	if entry.Status != models.QueueCalled {
		t.Fatalf("expected CALLED, got %s", entry.Status)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("load: %w", store.ErrAppointmentNotFound), http.StatusNotFound, "appointment_not_found"},
		{fmt.Errorf("write: %w", store.ErrStaleState), http.StatusConflict, "stale_state"},
		{store.ErrActiveEntryExists, http.StatusConflict, "active_entry_exists"},
		{store.ErrRequestIDConflict, http.StatusConflict, "request_id_conflict"},
		{&lifecycle.ConsistencyError{AppointmentID: "a", EntryID: "e", Detail: "x"}, http.StatusInternalServerError, "consistency_violation"},
		{lifecycle.NewGuardError("appointment", "cancel", lifecycle.GuardCheckedIn, models.AppointmentConfirmed), http.StatusConflict, "guard_violation"},
		{lifecycle.NewGuardError("queue_entry", "call", lifecycle.GuardInvalidDepartment, ""), http.StatusBadRequest, "invalid_request"},
		{store.ErrHistoryTampered, http.StatusInternalServerError, "history_tampered"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		status, code, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.code, status, code)
		}
	}
}

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Secret: testSecret, Issuer: "clinicq"})
	valid, err := auth.Issue(doctor, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := auth.Parse(valid)
	if err != nil || got != doctor {
		t.Fatalf("expected %+v, got %+v (%v)", doctor, got, err)
	}

	expired, _ := auth.Issue(doctor, -time.Minute)
	otherIssuer, _ := NewAuthenticator(AuthConfig{Secret: testSecret, Issuer: "someone-else"}).Issue(doctor, time.Hour)
	otherSecret, _ := NewAuthenticator(AuthConfig{Secret: "other", Issuer: "clinicq"}).Issue(doctor, time.Hour)
	badRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "nurse",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "n-1", Issuer: "clinicq", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "clinicq", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"expired":  expired,
		"issuer":   otherIssuer,
		"secret":   otherSecret,
		"role":     badRole,
		"alg none": unsigned,
		"garbage":  "not-a-token",
	} {
		if _, err := auth.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected invalid token, got %v", name, err)
		}
	}
}

func TestDevHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("X-Actor-ID", "doc-9")
	req.Header.Set("X-Actor-Role", "Doctor")

	if _, err := NewAuthenticator(AuthConfig{Secret: testSecret}).Authenticate(req); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("dev headers accepted outside dev: %v", err)
	}
	actor, err := NewAuthenticator(AuthConfig{DevHeaders: true}).Authenticate(req)
	if err != nil || actor.ID != "doc-9" || actor.Role != orchestrator.RoleDoctor {
		t.Fatalf("expected dev actor, got %+v (%v)", actor, err)
	}
}

func TestTokenLimiter(t *testing.T) {
	now := at(8, 0)
	limiter := newTokenLimiter(60, 2)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("a") || !limiter.allow("a") {
		t.Fatalf("expected burst of 2")
	}
	if limiter.allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.allow("b") {
		t.Fatalf("keys must not share a bucket")
	}
	now = now.Add(time.Second)
	if !limiter.allow("a") {
		t.Fatalf("expected refill after one second")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tc := range tests {
		if got := bearerToken(tc.header); got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
