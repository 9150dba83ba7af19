package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"clinicq/internal/models"
)

func buildHistory(t *testing.T) []EntryEvent {
	t.Helper()
	at := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	entry := models.QueueEntry{EntryID: "entry-1", QueueNumber: 7, Department: "general", Status: models.QueueWaiting, PriorityLevel: models.PriorityMedium, CheckInTime: at, Version: 1}

	var events []EntryEvent
	var last *EntryEvent
	for _, step := range []struct {
		eventType string
		mutate    func(*models.QueueEntry)
	}{
		{EventQueueCreated, func(*models.QueueEntry) {}},
		{EventQueueCalled, func(e *models.QueueEntry) {
			called := at.Add(10 * time.Minute)
			doctor := "doctor-1"
			e.Status = models.QueueCalled
			e.CalledTime = &called
			e.CalledBy = &doctor
			e.Version = 2
		}},
		{EventQueueInService, func(e *models.QueueEntry) {
			started := at.Add(12 * time.Minute)
			e.Status = models.QueueInService
			e.ServiceStartTime = &started
			e.Version = 3
		}},
	} {
		step.mutate(&entry)
		payload, err := json.Marshal(entry)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		event := NextEntryEvent(last, entry.EntryID, step.eventType, payload, at.Add(time.Duration(len(events))*time.Minute))
		events = append(events, event)
		last = &events[len(events)-1]
	}
	return events
}

func TestVerifyChain(t *testing.T) {
	events := buildHistory(t)
	if err := VerifyChain(events); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if events[1].PrevHash != events[0].Hash {
		t.Fatalf("events are not linked")
	}

	tampered := append([]EntryEvent(nil), events...)
	tampered[1].Payload = json.RawMessage(`{"status":"COMPLETED"}`)
	if err := VerifyChain(tampered); !errors.Is(err, ErrHistoryTampered) {
		t.Fatalf("expected tamper detection, got %v", err)
	}

	if err := VerifyChain(events[1:]); !errors.Is(err, ErrHistoryTampered) {
		t.Fatalf("expected missing head to be detected, got %v", err)
	}
}

func TestRehydrateEntry(t *testing.T) {
	entry, err := RehydrateEntry(buildHistory(t))
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if entry.Status != models.QueueInService || entry.Version != 3 {
		t.Fatalf("unexpected status/version: %+v", entry)
	}
	if entry.CalledBy == nil || *entry.CalledBy != "doctor-1" || entry.ServiceStartTime == nil {
		t.Fatalf("expected call and start fields, got %+v", entry)
	}
	if entry.QueueNumber != 7 || entry.Department != "general" {
		t.Fatalf("expected identity fields to survive, got %+v", entry)
	}
}
