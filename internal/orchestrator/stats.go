package orchestrator

import (
	"context"
	"strings"
	"time"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
)

// DepartmentStats summarises one department queue for one day.
type DepartmentStats struct {
	Department        string         `json:"department"`
	QueueDate         string         `json:"queue_date"`
	Total             int            `json:"total"`
	ByStatus          map[string]int `json:"by_status"`
	Emergencies       int            `json:"emergencies"`
	AvgWaitSeconds    float64        `json:"avg_wait_seconds"`
	AvgServiceSeconds float64        `json:"avg_service_seconds"`
}

// QueueStats reports queue length per status and the average wait (check-in
// to call) and service (start to end) times of the entries that have them.
func (s *Service) QueueStats(ctx context.Context, actor Actor, department, queueDate string) (DepartmentStats, error) {
	if err := requireRole(actor, RoleDoctor, RoleAdmin); err != nil {
		return DepartmentStats{}, err
	}
	department = strings.TrimSpace(department)
	if department == "" {
		return DepartmentStats{}, lifecycle.NewGuardError("queue_entry", "stats", lifecycle.GuardInvalidDepartment, "")
	}
	if queueDate == "" {
		queueDate = s.queueDate(s.now())
	}
	entries, err := s.store.ListEntries(ctx, department, queueDate)
	if err != nil {
		return DepartmentStats{}, err
	}
	return summarise(department, queueDate, entries), nil
}

func summarise(department, queueDate string, entries []models.QueueEntry) DepartmentStats {
	stats := DepartmentStats{
		Department: department,
		QueueDate:  queueDate,
		ByStatus:   map[string]int{},
	}
	var (
		wait, service  time.Duration
		waited, served int
	)
	for _, e := range entries {
		stats.Total++
		stats.ByStatus[e.Status]++
		if e.IsEmergency {
			stats.Emergencies++
		}
		if e.CalledTime != nil {
			wait += e.CalledTime.Sub(e.CheckInTime)
			waited++
		}
		if e.ServiceStartTime != nil && e.ServiceEndTime != nil {
			service += e.ServiceEndTime.Sub(*e.ServiceStartTime)
			served++
		}
	}
	if waited > 0 {
		stats.AvgWaitSeconds = wait.Seconds() / float64(waited)
	}
	if served > 0 {
		stats.AvgServiceSeconds = service.Seconds() / float64(served)
	}
	return stats
}
