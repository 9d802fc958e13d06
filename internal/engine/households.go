package engine

import (
	"context"
	"fmt"

	"transitionos/internal/domain"
	"transitionos/internal/repo"
	"transitionos/internal/rollup"
)

// ListHouseholds returns household summaries in presentation order.
func (e Engine) ListHouseholds(ctx context.Context, f repo.HouseholdFilters) ([]rollup.HouseholdSummary, error) {
	households, err := e.Repo.ListHouseholds(ctx, f)
	if err != nil {
		return nil, err
	}
	taskCounts, err := e.Repo.HouseholdTaskCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("task counts: %w", err)
	}
	nigoCounts, err := e.Repo.HouseholdNIGOCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("nigo counts: %w", err)
	}
	refs, err := e.Repo.HouseholdRefsByID(ctx)
	if err != nil {
		return nil, fmt.Errorf("household refs: %w", err)
	}
	res := make([]rollup.HouseholdSummary, 0, len(households))
	for _, h := range households {
		c := taskCounts[h.ID]
		s := rollup.Summarize(h, c.Total, c.Completed, nigoCounts[h.ID])
		s.AdvisorName = refs[h.ID].AdvisorName
		s.AccountsCount = refs[h.ID].AccountsCount
		res = append(res, s)
	}
	rollup.SortHouseholds(res)
	return res, nil
}

// HouseholdDetail is a household with its related rows and derived fields.
type HouseholdDetail struct {
	Summary         rollup.HouseholdSummary
	Advisor         domain.Advisor
	Accounts        []domain.Account
	Documents       []domain.Document
	Tasks           []domain.Task
	SuggestedStatus string
}

func (e Engine) GetHousehold(ctx context.Context, id int64) (HouseholdDetail, error) {
	h, err := e.Repo.GetHousehold(ctx, id)
	if err != nil {
		return HouseholdDetail{}, notFound("household", id, err)
	}
	advisor, err := e.Repo.GetAdvisor(ctx, h.AdvisorID)
	if err != nil {
		return HouseholdDetail{}, notFound("advisor", h.AdvisorID, err)
	}
	accounts, err := e.Repo.ListAccounts(ctx, id)
	if err != nil {
		return HouseholdDetail{}, err
	}
	docs, err := e.Repo.ListDocuments(ctx, id)
	if err != nil {
		return HouseholdDetail{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{HouseholdID: &id})
	if err != nil {
		return HouseholdDetail{}, err
	}
	summary := rollup.SummarizeRows(h, tasks, docs)
	summary.AdvisorName = advisor.Name
	summary.AccountsCount = len(accounts)
	return HouseholdDetail{
		Summary:         summary,
		Advisor:         advisor,
		Accounts:        accounts,
		Documents:       docs,
		Tasks:           tasks,
		SuggestedStatus: rollup.SuggestedStatus(summary),
	}, nil
}
