package httpapi

import (
	"net/http"
	"strings"
	"time"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
	"clinicq/internal/orchestrator"
)

type bookRequest struct {
	RequestID       string `json:"request_id"`
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	AppointmentDate string `json:"appointment_date"`
	Type            string `json:"type"`
	Priority        string `json:"priority"`
	DurationMinutes int    `json:"duration_minutes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	AppointmentDate string `json:"appointment_date"`
}

type checkInRequest struct {
	RequestID     string `json:"request_id"`
	Department    string `json:"department"`
	PriorityLevel string `json:"priority_level"`
	IsEmergency   bool   `json:"is_emergency"`
}

type reconcileRequest struct {
	Department string `json:"department"`
}

type checkInResponse struct {
	Appointment models.Appointment `json:"appointment"`
	Entry       models.QueueEntry  `json:"entry"`
}

type eligibilityResponse struct {
	Appointment models.Appointment      `json:"appointment"`
	Actions     []lifecycle.ActionCheck `json:"actions"`
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	date, ok := parseTime(w, r, req.AppointmentDate)
	if !ok {
		return
	}
	appt, err := h.svc.BookAppointment(r.Context(), actorOf(r), orchestrator.BookInput{
		RequestID:       strings.TrimSpace(req.RequestID),
		PatientID:       strings.TrimSpace(req.PatientID),
		DoctorID:        strings.TrimSpace(req.DoctorID),
		AppointmentDate: date,
		Type:            strings.TrimSpace(req.Type),
		Priority:        strings.TrimSpace(req.Priority),
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) handleNoShowSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := h.svc.SweepNoShows(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queued, err := h.svc.QueueReminders(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queued": queued})
}

func (h *Handler) handleAppointment(w http.ResponseWriter, r *http.Request) {
	id, rest := splitAction(r.URL.Path, "/api/appointments/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case len(rest) == 0:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		appt, err := h.svc.GetAppointment(r.Context(), actorOf(r), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	case len(rest) == 1 && rest[0] == "eligibility":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		appt, checks, err := h.svc.Eligibility(r.Context(), actorOf(r), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, eligibilityResponse{Appointment: appt, Actions: checks})
	case len(rest) == 2 && rest[0] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAppointmentAction(w, r, id, rest[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleAppointmentAction(w http.ResponseWriter, r *http.Request, id, action string) {
	ctx := r.Context()
	actor := actorOf(r)
	var (
		payload interface{}
		err     error
	)
	switch action {
	case "confirm":
		payload, err = h.svc.Confirm(ctx, actor, id)
	case "cancel":
		var req cancelRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		payload, err = h.svc.Cancel(ctx, actor, id, strings.TrimSpace(req.Reason))
	case "reschedule":
		var req rescheduleRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		date, ok := parseTime(w, r, req.AppointmentDate)
		if !ok {
			return
		}
		payload, err = h.svc.Reschedule(ctx, actor, id, date)
	case "no-show":
		payload, err = h.svc.MarkNoShow(ctx, actor, id)
	case "check-in":
		var req checkInRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		var (
			appt  models.Appointment
			entry models.QueueEntry
		)
		appt, entry, err = h.svc.CheckIn(ctx, actor, id, orchestrator.CheckInInput{
			RequestID:     strings.TrimSpace(req.RequestID),
			Department:    strings.TrimSpace(req.Department),
			PriorityLevel: strings.TrimSpace(req.PriorityLevel),
			IsEmergency:   req.IsEmergency,
		})
		payload = checkInResponse{Appointment: appt, Entry: entry}
	case "start":
		payload, err = h.svc.StartConsultation(ctx, actor, id)
	case "notes":
		var req models.ClinicalNotes
		if !decodeRequest(w, r, &req) {
			return
		}
		payload, err = h.svc.UpdateClinicalNotes(ctx, actor, id, req)
	case "complete":
		payload, err = h.svc.CompleteConsultation(ctx, actor, id)
	case "reconcile":
		var req reconcileRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		payload, err = h.svc.ReconcileCheckIn(ctx, actor, id, strings.TrimSpace(req.Department))
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func parseTime(w http.ResponseWriter, r *http.Request, value string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_request", "appointment_date must be RFC3339", "")
		return time.Time{}, false
	}
	return t, true
}
