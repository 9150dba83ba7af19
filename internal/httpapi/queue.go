package httpapi

import (
	"net/http"
	"strings"

	"clinicq/internal/orchestrator"
)

type walkInRequest struct {
	RequestID     string `json:"request_id"`
	PatientID     string `json:"patient_id"`
	Department    string `json:"department"`
	PriorityLevel string `json:"priority_level"`
	IsEmergency   bool   `json:"is_emergency"`
}

type callNextRequest struct {
	Department string `json:"department"`
}

type callRequest struct {
	Override bool   `json:"override"`
	Reason   string `json:"reason"`
}

type priorityRequest struct {
	PriorityLevel string `json:"priority_level"`
	IsEmergency   bool   `json:"is_emergency"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		board, err := h.svc.QueueView(r.Context(), actorOf(r), q.Get("department"), strings.TrimSpace(q.Get("date")))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
	case http.MethodPost:
		var req walkInRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		entry, err := h.svc.RegisterWalkIn(r.Context(), actorOf(r), orchestrator.WalkInInput{
			RequestID:     strings.TrimSpace(req.RequestID),
			PatientID:     strings.TrimSpace(req.PatientID),
			Department:    strings.TrimSpace(req.Department),
			PriorityLevel: strings.TrimSpace(req.PriorityLevel),
			IsEmergency:   req.IsEmergency,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	stats, err := h.svc.QueueStats(r.Context(), actorOf(r), q.Get("department"), strings.TrimSpace(q.Get("date")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req callNextRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	entry, err := h.svc.CallNext(r.Context(), actorOf(r), strings.TrimSpace(req.Department))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	id, rest := splitAction(r.URL.Path, "/api/queue/")
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
		entry, err := h.svc.GetEntry(r.Context(), actorOf(r), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case len(rest) == 1 && rest[0] == "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events, err := h.svc.EntryHistory(r.Context(), actorOf(r), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	case len(rest) == 2 && rest[0] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEntryAction(w, r, id, rest[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request, id, action string) {
	ctx := r.Context()
	actor := actorOf(r)
	var (
		payload interface{}
		err     error
	)
	switch action {
	case "call":
		var req callRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		payload, err = h.svc.CallEntry(ctx, actor, id, orchestrator.CallInput{
			Override: req.Override,
			Reason:   strings.TrimSpace(req.Reason),
		})
	case "recall":
		payload, err = h.svc.Recall(ctx, actor, id)
	case "start":
		payload, err = h.svc.StartService(ctx, actor, id)
	case "complete":
		payload, err = h.svc.CompleteService(ctx, actor, id)
	case "skip":
		payload, err = h.svc.Skip(ctx, actor, id)
	case "leave":
		payload, err = h.svc.Leave(ctx, actor, id)
	case "priority":
		var req priorityRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		payload, err = h.svc.ChangePriority(ctx, actor, id, strings.TrimSpace(req.PriorityLevel), req.IsEmergency)
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
