// Package rollup derives household and workflow views from task and document
// rows. Nothing here is stored; callers recompute on every read.
package rollup

import (
	"math"
	"sort"
	"time"

	"transitionos/internal/domain"
)

// HouseholdSummary is a household plus its derived counters.
type HouseholdSummary struct {
	Household       domain.Household
	AdvisorName     string
	AccountsCount   int
	TotalTasks      int
	CompletedTasks  int
	OpenTasks       int
	NIGOIssues      int
	ProgressPercent float64
}

// Progress returns 100*completed/total rounded to two decimals, 0 when total is 0.
func Progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(10000*float64(completed)/float64(total)) / 100
}

// Summarize builds a summary from precomputed counts.
func Summarize(h domain.Household, total, completed, nigo int) HouseholdSummary {
	return HouseholdSummary{
		Household:       h,
		TotalTasks:      total,
		CompletedTasks:  completed,
		OpenTasks:       total - completed,
		NIGOIssues:      nigo,
		ProgressPercent: Progress(completed, total),
	}
}

// SummarizeRows builds a summary from the household's task and document rows.
func SummarizeRows(h domain.Household, tasks []domain.Task, docs []domain.Document) HouseholdSummary {
	completed := 0
	for _, t := range tasks {
		if t.Status == domain.TaskCompleted {
			completed++
		}
	}
	nigo := 0
	for _, d := range docs {
		if d.NIGOStatus == domain.NIGODefectsFound {
			nigo++
		}
	}
	return Summarize(h, len(tasks), completed, nigo)
}

// SuggestedStatus returns COMPLETED when the household has tasks and all of
// them are complete, otherwise the current status.
func SuggestedStatus(s HouseholdSummary) string {
	if s.TotalTasks > 0 && s.CompletedTasks == s.TotalTasks {
		return domain.HouseholdCompleted
	}
	return s.Household.Status
}

// SortHouseholds orders by risk_score desc (null lowest), eta_date asc
// (null last), then id asc.
func SortHouseholds(items []HouseholdSummary) {
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i].Household, items[j].Household)
	})
}

func less(a, b domain.Household) bool {
	switch {
	case a.RiskScore != nil && b.RiskScore == nil:
		return true
	case a.RiskScore == nil && b.RiskScore != nil:
		return false
	case a.RiskScore != nil && b.RiskScore != nil && *a.RiskScore != *b.RiskScore:
		return *a.RiskScore > *b.RiskScore
	}
	switch {
	case a.ETADate != nil && b.ETADate == nil:
		return true
	case a.ETADate == nil && b.ETADate != nil:
		return false
	case a.ETADate != nil && b.ETADate != nil && *a.ETADate != *b.ETADate:
		return *a.ETADate < *b.ETADate
	}
	return a.ID < b.ID
}

// WorkflowSnapshot is the derived dashboard view of one workflow.
type WorkflowSnapshot struct {
	Status          string
	PercentComplete float64
	Total           int
	Completed       int
	Blocked         int
	Overdue         int
	Blockers        []string
}

// Snapshot derives the dashboard for a workflow's tasks as of now. external
// holds blocker tasks that live outside the workflow and may be nil.
// A task counts as blocked when its status is BLOCKED or its blocker is not
// yet complete. Overdue means open with sla_due_at before now.
func Snapshot(tasks []domain.Task, external map[int64]domain.Task, now time.Time) WorkflowSnapshot {
	byID := make(map[int64]domain.Task, len(tasks)+len(external))
	for id, t := range external {
		byID[id] = t
	}
	for _, t := range tasks {
		byID[t.ID] = t
	}
	s := WorkflowSnapshot{Total: len(tasks), Blockers: []string{}}
	for _, t := range tasks {
		if t.Status == domain.TaskCompleted {
			s.Completed++
			continue
		}
		if isBlocked(t, byID) {
			s.Blocked++
			s.Blockers = append(s.Blockers, t.Name)
		}
		if t.SLADueAt != nil {
			if due, err := time.Parse(time.RFC3339, *t.SLADueAt); err == nil && due.Before(now) {
				s.Overdue++
			}
		}
	}
	s.PercentComplete = Progress(s.Completed, s.Total)
	s.Status = domain.TaskInProgress
	if s.Total > 0 && s.Completed == s.Total {
		s.Status = domain.TaskCompleted
	}
	return s
}

func isBlocked(t domain.Task, byID map[int64]domain.Task) bool {
	if t.Status == domain.TaskBlocked {
		return true
	}
	if t.BlockedByTaskID == nil {
		return false
	}
	blocker, ok := byID[*t.BlockedByTaskID]
	return !ok || blocker.Status != domain.TaskCompleted
}
