package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"transitionos/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

// --- advisors ---

const advisorCols = `id,name,email,channel,experience_years`

func scanAdvisor(row interface{ Scan(...any) error }) (domain.Advisor, error) {
	var a domain.Advisor
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Channel, &a.ExperienceYears)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAdvisor(ctx context.Context, tx *sql.Tx, a domain.Advisor) (int64, error) {
	if a.Channel == "" {
		a.Channel = "independent"
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO advisors(name,email,channel,experience_years) VALUES (?,?,?,?)`,
		a.Name, a.Email, a.Channel, a.ExperienceYears)
	if err != nil {
		return 0, fmt.Errorf("insert advisor: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) GetAdvisor(ctx context.Context, id int64) (domain.Advisor, error) {
	return r.GetAdvisorTx(ctx, nil, id)
}

func (r Repo) GetAdvisorTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Advisor, error) {
	return scanAdvisor(r.q(tx).QueryRowContext(ctx, `SELECT `+advisorCols+` FROM advisors WHERE id=?`, id))
}

func (r Repo) GetAdvisorByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.Advisor, error) {
	return scanAdvisor(r.q(tx).QueryRowContext(ctx, `SELECT `+advisorCols+` FROM advisors WHERE email=?`, email))
}

func (r Repo) ListAdvisors(ctx context.Context) ([]domain.Advisor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+advisorCols+` FROM advisors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Advisor
	for rows.Next() {
		a, err := scanAdvisor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- households ---

const householdCols = `id,advisor_id,name,status,eta_date,risk_score`

func scanHousehold(row interface{ Scan(...any) error }) (domain.Household, error) {
	var h domain.Household
	var eta sql.NullString
	var risk sql.NullFloat64
	err := row.Scan(&h.ID, &h.AdvisorID, &h.Name, &h.Status, &eta, &risk)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	h.ETADate = stringPtr(eta)
	if risk.Valid {
		v := risk.Float64
		h.RiskScore = &v
	}
	return h, nil
}

type HouseholdFilters struct {
	AdvisorID *int64
	Status    string
}

func (r Repo) InsertHousehold(ctx context.Context, tx *sql.Tx, h domain.Household) (int64, error) {
	if h.Status == "" {
		h.Status = domain.HouseholdInProgress
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO households(advisor_id,name,status,eta_date,risk_score) VALUES (?,?,?,?,?)`,
		h.AdvisorID, h.Name, h.Status, nullableStringPtr(h.ETADate), nullableFloatPtr(h.RiskScore))
	if err != nil {
		return 0, fmt.Errorf("insert household: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) GetHousehold(ctx context.Context, id int64) (domain.Household, error) {
	return r.GetHouseholdTx(ctx, nil, id)
}

func (r Repo) GetHouseholdTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Household, error) {
	return scanHousehold(r.q(tx).QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE id=?`, id))
}

// ListHouseholds returns households matching f in id order; callers apply presentation order.
func (r Repo) ListHouseholds(ctx context.Context, f HouseholdFilters) ([]domain.Household, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.AdvisorID != nil {
		clauses = append(clauses, "advisor_id=?")
		args = append(args, *f.AdvisorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := fmt.Sprintf(`SELECT %s FROM households WHERE %s ORDER BY id`, householdCols, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) UpdateHouseholdStatus(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE households SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- accounts ---

const accountCols = `id,household_id,account_number,type,custodian,status,asset_value`

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.HouseholdID, &a.AccountNumber, &a.Type, &a.Custodian, &a.Status, &a.AssetValue)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAccount(ctx context.Context, tx *sql.Tx, a domain.Account) (int64, error) {
	if a.AssetValue.IsNegative() {
		return 0, fmt.Errorf("asset_value must be non-negative")
	}
	if a.Status == "" {
		a.Status = domain.AccountPending
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO accounts(household_id,account_number,type,custodian,status,asset_value) VALUES (?,?,?,?,?,?)`,
		a.HouseholdID, a.AccountNumber, a.Type, a.Custodian, a.Status, a.AssetValue.String())
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) GetAccountTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Account, error) {
	return scanAccount(r.q(tx).QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id=?`, id))
}

func (r Repo) GetAccountByNumberTx(ctx context.Context, tx *sql.Tx, number string) (domain.Account, error) {
	return scanAccount(r.q(tx).QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE account_number=?`, number))
}

func (r Repo) ListAccounts(ctx context.Context, householdID int64) ([]domain.Account, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE household_id=? ORDER BY id`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// HouseholdRefs are values joined onto a household row for listings.
type HouseholdRefs struct {
	AdvisorName   string
	AccountsCount int
}

// HouseholdRefsByID returns the advisor name and account count of every household.
func (r Repo) HouseholdRefsByID(ctx context.Context) (map[int64]HouseholdRefs, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT h.id, COALESCE(a.name,''), COUNT(ac.id)
		FROM households h
		LEFT JOIN advisors a ON a.id=h.advisor_id
		LEFT JOIN accounts ac ON ac.household_id=h.id
		GROUP BY h.id, a.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]HouseholdRefs{}
	for rows.Next() {
		var id int64
		var refs HouseholdRefs
		if err := rows.Scan(&id, &refs.AdvisorName, &refs.AccountsCount); err != nil {
			return nil, err
		}
		res[id] = refs
	}
	return res, rows.Err()
}

func (r Repo) UpdateAccountStatus(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE accounts SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- workflows ---

const workflowCols = `id,advisor_id,name,type,started_at,target_completion_at,completed_at`

func scanWorkflow(row interface{ Scan(...any) error }) (domain.Workflow, error) {
	var w domain.Workflow
	var target, completed sql.NullString
	err := row.Scan(&w.ID, &w.AdvisorID, &w.Name, &w.Type, &w.StartedAt, &target, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	w.TargetCompletionAt = stringPtr(target)
	w.CompletedAt = stringPtr(completed)
	return w, err
}

func (r Repo) InsertWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO workflows(advisor_id,name,type,started_at,target_completion_at,completed_at) VALUES (?,?,?,?,?,?)`,
		w.AdvisorID, w.Name, w.Type, w.StartedAt, nullableStringPtr(w.TargetCompletionAt), nullableStringPtr(w.CompletedAt))
	if err != nil {
		return 0, fmt.Errorf("insert workflow: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) GetWorkflow(ctx context.Context, id int64) (domain.Workflow, error) {
	return r.GetWorkflowTx(ctx, nil, id)
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Workflow, error) {
	return scanWorkflow(r.q(tx).QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE id=?`, id))
}

func (r Repo) SetWorkflowCompleted(ctx context.Context, tx *sql.Tx, id int64, completedAt *string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE workflows SET completed_at=? WHERE id=?`, nullableStringPtr(completedAt), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- counts ---

// Counts returns row counts per table, used for import summaries.
func (r Repo) Counts(ctx context.Context) (map[string]int, error) {
	res := map[string]int{}
	for _, t := range []string{"advisors", "households", "accounts", "workflows", "tasks", "documents", "audit_events"} {
		var n int
		if err := r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t)).Scan(&n); err != nil {
			return nil, err
		}
		res[t] = n
	}
	return res, nil
}

// --- helpers ---

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
