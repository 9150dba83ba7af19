package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"clinicq/internal/lifecycle"
	"clinicq/internal/orchestrator"
	"clinicq/internal/store"

	"github.com/rs/zerolog"
)

type Handler struct {
	svc    *orchestrator.Service
	logger zerolog.Logger
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Guard   string `json:"guard,omitempty"`
}

func NewHandler(svc *orchestrator.Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/appointments", h.handleBook)
	mux.HandleFunc("/api/appointments/actions/no-show-sweep", h.handleNoShowSweep)
	mux.HandleFunc("/api/appointments/actions/reminders", h.handleReminders)
	mux.HandleFunc("/api/appointments/", h.handleAppointment)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/stats", h.handleQueueStats)
	mux.HandleFunc("/api/queue/", h.handleEntry)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/audit/pairs", h.handleAuditPairs)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	after, err := queryInt(r, "after", 0)
	if err != nil {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_request", "after must be an integer", "")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit <= 0 || limit > 500 {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500", "")
		return
	}
	events, err := h.svc.ListEvents(r.Context(), actorOf(r), int64(after), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handler) handleAuditPairs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	violations, err := h.svc.AuditPairs(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	type violation struct {
		AppointmentID string `json:"appointment_id"`
		EntryID       string `json:"entry_id,omitempty"`
		Detail        string `json:"detail"`
	}
	out := make([]violation, 0, len(violations))
	for _, v := range violations {
		out = append(out, violation{AppointmentID: v.AppointmentID, EntryID: v.EntryID, Detail: v.Detail})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"violations": out})
}

// splitAction parses "{id}" or "{id}/{rest...}" below prefix.
func splitAction(path, prefix string) (string, []string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return "", nil
	}
	parts := strings.Split(trimmed, "/")
	return parts[0], parts[1:]
}

func actorOf(r *http.Request) orchestrator.Actor {
	actor, _ := actorFromContext(r.Context())
	return actor
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// decodeRequest reads an optional JSON body into target. An empty body
// leaves target at its zero value.
func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.Body == nil {
		return true
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_json", "invalid JSON payload", "")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	guard := lifecycle.GuardName(err)
	requestID := requestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, requestID, status, code, msg, guard)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, orchestrator.ErrQueueEmpty):
		return http.StatusNotFound, "queue_empty", "no waiting entries"
	case errors.Is(err, lifecycle.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, lifecycle.ErrGuardViolation):
		guard := lifecycle.GuardName(err)
		if strings.HasPrefix(guard, "invalid_") || strings.HasSuffix(guard, "_required") {
			return http.StatusBadRequest, "invalid_request", err.Error()
		}
		return http.StatusConflict, "guard_violation", err.Error()
	case errors.Is(err, store.ErrStaleState):
		return http.StatusConflict, "stale_state", "entity changed concurrently, reload and retry"
	case errors.Is(err, store.ErrRequestIDConflict):
		return http.StatusConflict, "request_id_conflict", "request_id already used for another entry"
	case errors.Is(err, store.ErrActiveEntryExists):
		return http.StatusConflict, "active_entry_exists", "appointment already has an active queue entry"
	case errors.Is(err, lifecycle.ErrConsistencyViolation):
		return http.StatusInternalServerError, "consistency_violation", err.Error()
	case errors.Is(err, store.ErrHistoryTampered):
		return http.StatusInternalServerError, "history_tampered", "queue entry history failed verification"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message, guard string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
			Guard:   guard,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
