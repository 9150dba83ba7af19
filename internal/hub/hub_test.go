package hub

import (
	"context"
	"encoding/json"
	"testing"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/rs/zerolog"
)

func queueEvent(t *testing.T, eventType, department string) store.OutboxEvent {
	t.Helper()
	apptID := "appt-1"
	payload, err := json.Marshal(models.QueueEntry{
		EntryID:       "entry-1",
		QueueNumber:   4,
		PatientID:     "patient-1",
		AppointmentID: &apptID,
		Department:    department,
		Status:        models.QueueCalled,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return store.OutboxEvent{Seq: 1, Type: eventType, Department: department, Payload: payload}
}

func TestHandleBroadcastsToDepartment(t *testing.T) {
	h := New(zerolog.Nop())
	general := &Client{ID: "a", Send: make(chan []byte, 1), Subscription: Subscription{Department: "general"}}
	dental := &Client{ID: "b", Send: make(chan []byte, 1), Subscription: Subscription{Department: "dental"}}
	idle := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(general)
	h.Register(dental)
	h.Register(idle)

	if err := h.Handle(context.Background(), queueEvent(t, store.EventQueueCalled, "general")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	select {
	case raw := <-general.Send:
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Type != store.EventQueueCalled || env.Entry.QueueNumber != 4 {
			t.Fatalf("unexpected envelope %+v", env)
		}
		if env.Entry.PatientID != "" || env.Entry.AppointmentID != nil {
			t.Fatalf("patient identifiers leaked: %+v", env.Entry)
		}
	default:
		t.Fatalf("expected a message for the general board")
	}
	if len(dental.Send) != 0 || len(idle.Send) != 0 {
		t.Fatalf("message delivered outside the department")
	}
}

func TestHandleIgnoresAppointmentEvents(t *testing.T) {
	h := New(zerolog.Nop())
	client := &Client{ID: "a", Send: make(chan []byte, 1), Subscription: Subscription{Department: "general"}}
	h.Register(client)
	event := store.OutboxEvent{Seq: 1, Type: store.EventAppointmentConfirmed, Payload: []byte(`{}`)}
	if err := h.Handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(client.Send) != 0 {
		t.Fatalf("appointment event broadcast")
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New(zerolog.Nop())
	client := &Client{ID: "a", Send: make(chan []byte, 1), Subscription: Subscription{Department: "general"}}
	h.Register(client)
	h.Broadcast([]byte("one"), "general")
	h.Broadcast([]byte("two"), "general")
	if got := string(<-client.Send); got != "one" {
		t.Fatalf("expected first message kept, got %q", got)
	}
	h.Unregister(client)
	h.Unregister(client)
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		input string
		ok    bool
		dept  string
	}{
		{`{"action":"subscribe","department":" general "}`, true, "general"},
		{`{"action":"subscribe"}`, false, ""},
		{`{"action":"unsubscribe"}`, true, ""},
		{`{"action":"dance"}`, false, ""},
		{`not json`, false, ""},
	}
	for _, tt := range cases {
		msg, ok := ParseSubscribe([]byte(tt.input))
		if ok != tt.ok || (ok && msg.Department != tt.dept) {
			t.Fatalf("%s: got %+v, %t", tt.input, msg, ok)
		}
	}
}
