package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

// Message is what a Publisher delivers to the patient-facing channel.
type Message struct {
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	Template        string    `json:"template"`
	AppointmentID   string    `json:"appointment_id"`
	PatientID       string    `json:"patient_id"`
	AppointmentDate time.Time `json:"appointment_date"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
}

// Notifier turns appointment events into patient notifications. Events
// without a template are consumed silently.
type Notifier struct {
	publisher Publisher
	loc       *time.Location
}

func NewNotifier(publisher Publisher, loc *time.Location) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{publisher: publisher, loc: loc}
}

func (n *Notifier) Handle(ctx context.Context, event store.OutboxEvent) error {
	templateID := templateForEvent(event.Type)
	if templateID == "" {
		return nil
	}
	var appt models.Appointment
	if err := json.Unmarshal(event.Payload, &appt); err != nil {
		// Undecodable payloads are skipped, not retried.
		return nil
	}
	return n.publisher.Publish(ctx, Message{
		EventID:         event.EventID,
		EventType:       event.Type,
		Template:        templateID,
		AppointmentID:   appt.AppointmentID,
		PatientID:       appt.PatientID,
		AppointmentDate: appt.AppointmentDate,
		Body:            renderTemplate(defaultTemplate(templateID), appt, n.loc),
		CreatedAt:       event.CreatedAt,
	})
}

func templateForEvent(eventType string) string {
	switch eventType {
	case store.EventAppointmentConfirmed:
		return "appointment_confirmed"
	case store.EventAppointmentCancelled:
		return "appointment_cancelled"
	case store.EventAppointmentRescheduled:
		return "appointment_rescheduled"
	case store.EventAppointmentReminder:
		return "appointment_reminder"
	default:
		return ""
	}
}

func defaultTemplate(templateID string) string {
	switch templateID {
	case "appointment_confirmed":
		return "Your {type} appointment on {date} at {time} is confirmed."
	case "appointment_cancelled":
		return "Your {type} appointment on {date} at {time} was cancelled.{reason}"
	case "appointment_rescheduled":
		return "Your {type} appointment was moved to {date} at {time}."
	case "appointment_reminder":
		return "Reminder: {type} appointment on {date} at {time}. Check in up to an hour before."
	}
	return ""
}

func renderTemplate(template string, appt models.Appointment, loc *time.Location) string {
	local := appt.AppointmentDate.In(loc)
	reason := ""
	if appt.CancellationReason != "" {
		reason = " Reason: " + appt.CancellationReason + "."
	}
	return strings.NewReplacer(
		"{type}", strings.ToLower(strings.ReplaceAll(appt.Type, "_", " ")),
		"{date}", local.Format("Mon 2 Jan 2006"),
		"{time}", local.Format("15:04"),
		"{reason}", reason,
	).Replace(template)
}
