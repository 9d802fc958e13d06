package importer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"transitionos/internal/domain"
	"transitionos/internal/engine"
	"transitionos/internal/events"
)

// SeedResult reports what Seed did.
type SeedResult struct {
	Skipped bool    `json:"skipped"`
	Summary Summary `json:"summary"`
}

type seedAccount struct {
	number    string
	kind      string
	custodian string
	value     string
}

type seedTask struct {
	name    string
	role    string
	status  string
	dueDays int
}

type seedDocument struct {
	name   string
	kind   string
	defect string
}

type seedHousehold struct {
	name     string
	status   string
	risk     float64
	etaDays  int
	workflow string
	accounts []seedAccount
	tasks    []seedTask
	docs     []seedDocument
}

var seedHouseholds = []seedHousehold{
	{
		name: "The Smith Family", status: domain.HouseholdInProgress, risk: 42.5, etaDays: 10,
		workflow: "Smith Onboarding",
		accounts: []seedAccount{
			{"111-222-333", "JOINT_WROS", "LPL", "250000.00"},
			{"111-222-444", "IRA_ROTH", "LPL", "85000.00"},
			{"EXT-999-001", "INDIVIDUAL", "SCHWAB", "40000.00"},
		},
		tasks: []seedTask{
			{"Gather KYC Documents", domain.RoleAdvisor, domain.TaskCompleted, -2},
			{"Open Accounts", domain.RoleOps, domain.TaskPending, 1},
			{"Initiate ACAT Transfer", domain.RoleOps, domain.TaskPending, 5},
			{"Schedule Strategy Meeting", domain.RoleAdvisor, domain.TaskPending, 10},
		},
		docs: []seedDocument{
			{"Smith_Account_App.pdf", "NEW_ACCOUNT", ""},
			{"Smith_Transfer_Auth.pdf", "ACAT", "MISSING_SIGNATURE"},
		},
	},
	{
		name: "Jones Joint Account", status: domain.HouseholdAtRisk, risk: 71.0, etaDays: 3,
		workflow: "Jones ACAT Transfer",
		accounts: []seedAccount{
			{"555-666-777", "JOINT_WROS", "LPL", "410000.00"},
			{"555-666-888", "IRA_SEP", "FIDELITY", "120000.00"},
		},
		tasks: []seedTask{
			{"Submit Transfer Forms", domain.RoleOps, domain.TaskCompleted, -5},
			{"Verify Assets Received", domain.RoleOps, domain.TaskPending, 3},
		},
		docs: []seedDocument{
			{"Jones_Transfer.pdf", "ACAT", ""},
		},
	},
	{
		name: "Dr. Emily Wong", status: domain.HouseholdCompleted, risk: 5.0,
		accounts: []seedAccount{
			{"888-999-000", "INDIVIDUAL", "LPL", "95000.00"},
			{"888-999-111", "TRUST", "LPL", "600000.00"},
		},
	},
}

// Seed writes a small deterministic dataset relative to the engine clock. It
// does nothing when advisors already exist.
func Seed(ctx context.Context, eng engine.Engine) (SeedResult, error) {
	var existing int
	if err := eng.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM advisors`).Scan(&existing); err != nil {
		return SeedResult{}, err
	}
	if existing > 0 {
		return SeedResult{Skipped: true}, nil
	}

	now := clock(eng)
	stamp := now.Format(time.RFC3339)
	w := eng.Events
	w.Now = func() time.Time { return now }

	tx, err := eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return SeedResult{}, err
	}
	defer tx.Rollback()

	var sum Summary
	advisorID, err := eng.Repo.InsertAdvisor(ctx, tx, domain.Advisor{
		Name:            "Jane Doe",
		Email:           "jane.doe@lpl.com",
		Channel:         "independent",
		ExperienceYears: 12,
	})
	if err != nil {
		return SeedResult{}, err
	}
	sum.Advisors++

	for _, sh := range seedHouseholds {
		risk := sh.risk
		h := domain.Household{AdvisorID: advisorID, Name: sh.name, Status: sh.status, RiskScore: &risk}
		if sh.etaDays != 0 {
			eta := now.AddDate(0, 0, sh.etaDays).Format(domain.DateLayout)
			h.ETADate = &eta
		}
		householdID, err := eng.Repo.InsertHousehold(ctx, tx, h)
		if err != nil {
			return SeedResult{}, err
		}
		sum.Households++

		for _, a := range sh.accounts {
			status := domain.AccountTransferInProgress
			if sh.status == domain.HouseholdCompleted {
				status = domain.AccountOpen
			}
			if _, err := eng.Repo.InsertAccount(ctx, tx, domain.Account{
				HouseholdID:   householdID,
				AccountNumber: a.number,
				Type:          NormalizeAccountType(a.kind),
				Custodian:     a.custodian,
				Status:        status,
				AssetValue:    decimal.RequireFromString(a.value),
			}); err != nil {
				return SeedResult{}, err
			}
			sum.Accounts++
		}

		if sh.workflow != "" {
			workflowID, err := eng.Repo.InsertWorkflow(ctx, tx, domain.Workflow{
				AdvisorID: advisorID,
				Name:      sh.workflow,
				Type:      domain.WorkflowRecruitedAdvisor,
				StartedAt: now.AddDate(0, 0, -7).Format(time.RFC3339),
			})
			if err != nil {
				return SeedResult{}, err
			}
			sum.Workflows++

			// Each task is blocked by the one before it.
			var previous *int64
			for _, st := range sh.tasks {
				due := now.AddDate(0, 0, st.dueDays).Format(time.RFC3339)
				t := domain.Task{
					WorkflowID:      &workflowID,
					HouseholdID:     &householdID,
					Name:            st.name,
					OwnerRole:       st.role,
					Status:          st.status,
					Priority:        1,
					SLADueAt:        &due,
					BlockedByTaskID: previous,
					CreatedAt:       stamp,
					UpdatedAt:       stamp,
				}
				if st.status == domain.TaskCompleted {
					t.CompletedAt = &stamp
				}
				id, err := eng.Repo.InsertTask(ctx, tx, t)
				if err != nil {
					return SeedResult{}, err
				}
				previous = &id
				sum.Tasks++
			}
		}

		for _, d := range sh.docs {
			status, defects := NIGOFromLabel(d.defect, d.kind)
			if _, err := eng.Repo.InsertDocument(ctx, tx, domain.Document{
				HouseholdID: householdID,
				Type:        d.kind,
				Name:        d.name,
				NIGOStatus:  status,
				Defects:     defects,
				CreatedAt:   stamp,
			}); err != nil {
				return SeedResult{}, err
			}
			sum.Documents++
		}
	}

	if _, err := w.Append(ctx, tx, events.Entry{
		Actor:      domain.SystemActor("seed"),
		EventType:  "DATA_SEEDED",
		EntityType: "dataset",
		EntityID:   "demo",
		Payload: events.EventPayload{
			"advisors":   sum.Advisors,
			"households": sum.Households,
			"accounts":   sum.Accounts,
			"workflows":  sum.Workflows,
			"tasks":      sum.Tasks,
			"documents":  sum.Documents,
		},
	}); err != nil {
		return SeedResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SeedResult{}, err
	}
	return SeedResult{Summary: sum}, nil
}
