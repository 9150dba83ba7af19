package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"clinicq/internal/models"
)

// EntryEvent is one link in a queue entry's audit history. Each event hashes
// its predecessor so a rewritten row breaks the chain.
type EntryEvent struct {
	EntryID   string          `json:"entry_id"`
	EntrySeq  int             `json:"entry_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeEntryEventHash(prevHash, entryID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entryID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NextEntryEvent builds the event that follows last (nil for the first event).
func NextEntryEvent(last *EntryEvent, entryID, eventType string, payload json.RawMessage, createdAt time.Time) EntryEvent {
	seq := 1
	prev := ""
	if last != nil {
		seq = last.EntrySeq + 1
		prev = last.Hash
	}
	return EntryEvent{
		EntryID:   entryID,
		EntrySeq:  seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prev,
		Hash:      ComputeEntryEventHash(prev, entryID, eventType, payload, createdAt, seq),
	}
}

// VerifyChain checks sequence numbers, links and hashes of an ordered history.
func VerifyChain(events []EntryEvent) error {
	prev := ""
	for i, event := range events {
		if event.EntrySeq != i+1 {
			return fmt.Errorf("%w: entry %s seq %d at position %d", ErrHistoryTampered, event.EntryID, event.EntrySeq, i+1)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("%w: entry %s seq %d prev hash mismatch", ErrHistoryTampered, event.EntryID, event.EntrySeq)
		}
		want := ComputeEntryEventHash(event.PrevHash, event.EntryID, event.Type, event.Payload, event.CreatedAt, event.EntrySeq)
		if event.Hash != want {
			return fmt.Errorf("%w: entry %s seq %d hash mismatch", ErrHistoryTampered, event.EntryID, event.EntrySeq)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateEntry replays entry snapshots in order. Fields absent from a
// payload keep the value of an earlier event.
func RehydrateEntry(events []EntryEvent) (models.QueueEntry, error) {
	var entry models.QueueEntry
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		if err := json.Unmarshal(event.Payload, &entry); err != nil {
			return models.QueueEntry{}, err
		}
	}
	entry.Position = 0
	entry.EstimatedWaitMinutes = 0
	return entry, nil
}
