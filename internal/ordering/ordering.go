// Package ordering ranks queue entries for service. All functions are pure:
// they never mutate their input and the same input always yields the same order,
// so positions and wait estimates can be recomputed on every read.
package ordering

import (
	"sort"
	"time"

	"clinicq/internal/models"
)

var priorityRank = map[string]int{
	models.PriorityEmergency: 4,
	models.PriorityHigh:      3,
	models.PriorityMedium:    2,
	models.PriorityLow:       1,
}

// Rank maps a priority level to its ordinal. Unknown levels rank below LOW.
func Rank(priorityLevel string) int {
	return priorityRank[priorityLevel]
}

// Less reports whether a is served before b. Entries compare on
// (isEmergency DESC, priority DESC, checkInTime ASC); queue number and id
// break exact ties so the order is total.
func Less(a, b models.QueueEntry) bool {
	if a.IsEmergency != b.IsEmergency {
		return a.IsEmergency
	}
	if ra, rb := Rank(a.PriorityLevel), Rank(b.PriorityLevel); ra != rb {
		return ra > rb
	}
	if !a.CheckInTime.Equal(b.CheckInTime) {
		return a.CheckInTime.Before(b.CheckInTime)
	}
	if a.QueueNumber != b.QueueNumber {
		return a.QueueNumber < b.QueueNumber
	}
	return a.EntryID < b.EntryID
}

// Waiting returns the WAITING entries of department in service order.
func Waiting(entries []models.QueueEntry, department string) []models.QueueEntry {
	out := make([]models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status == models.QueueWaiting && e.Department == department {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Next returns the entry call-next must pick, or false if nobody is waiting.
func Next(entries []models.QueueEntry, department string) (models.QueueEntry, bool) {
	waiting := Waiting(entries, department)
	if len(waiting) == 0 {
		return models.QueueEntry{}, false
	}
	return waiting[0], true
}

// IsNext reports whether entryID is the first WAITING entry of its department.
func IsNext(entries []models.QueueEntry, department, entryID string) bool {
	next, ok := Next(entries, department)
	return ok && next.EntryID == entryID
}

// Board returns the department's visible queue: CALLED entries first, in call
// order, followed by WAITING entries in service order. Position and
// EstimatedWaitMinutes are filled in on the returned copies.
func Board(entries []models.QueueEntry, department string, avgService time.Duration) []models.QueueEntry {
	called := make([]models.QueueEntry, 0)
	for _, e := range entries {
		if e.Status == models.QueueCalled && e.Department == department {
			called = append(called, e)
		}
	}
	sort.SliceStable(called, func(i, j int) bool {
		ti, tj := calledAt(called[i]), calledAt(called[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return called[i].QueueNumber < called[j].QueueNumber
	})

	board := append(called, Waiting(entries, department)...)
	waitingAhead := 0
	for i := range board {
		board[i].Position = i + 1
		if board[i].Status != models.QueueWaiting {
			board[i].EstimatedWaitMinutes = 0
			continue
		}
		board[i].EstimatedWaitMinutes = EstimateWait(waitingAhead, avgService)
		waitingAhead++
	}
	return board
}

// Annotate fills Position and EstimatedWaitMinutes on entry from the board of
// its department. Entries not on the board (IN_SERVICE or terminal) get zero values.
func Annotate(entry models.QueueEntry, entries []models.QueueEntry, avgService time.Duration) models.QueueEntry {
	entry.Position = 0
	entry.EstimatedWaitMinutes = 0
	for _, e := range Board(entries, entry.Department, avgService) {
		if e.EntryID == entry.EntryID {
			entry.Position = e.Position
			entry.EstimatedWaitMinutes = e.EstimatedWaitMinutes
			break
		}
	}
	return entry
}

// EstimateWait sums the average service duration over the entries ahead,
// rounded up to whole minutes.
func EstimateWait(ahead int, avgService time.Duration) int {
	if ahead <= 0 || avgService <= 0 {
		return 0
	}
	total := time.Duration(ahead) * avgService
	minutes := int(total / time.Minute)
	if total%time.Minute != 0 {
		minutes++
	}
	return minutes
}

func calledAt(e models.QueueEntry) time.Time {
	if e.CalledTime == nil {
		return time.Time{}
	}
	return *e.CalledTime
}
