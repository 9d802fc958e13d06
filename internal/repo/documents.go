package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"transitionos/internal/domain"
)

const documentCols = `id,household_id,account_id,type,name,storage_url,nigo_status,defects_json,created_at`

func scanDocument(row interface{ Scan(...any) error }) (domain.Document, error) {
	var d domain.Document
	var accountID sql.NullInt64
	var defects sql.NullString
	err := row.Scan(&d.ID, &d.HouseholdID, &accountID, &d.Type, &d.Name, &d.StorageURL, &d.NIGOStatus, &defects, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.AccountID = int64Ptr(accountID)
	if defects.Valid && defects.String != "" {
		if err := json.Unmarshal([]byte(defects.String), &d.Defects); err != nil {
			return d, fmt.Errorf("decode defects for document %d: %w", d.ID, err)
		}
	}
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) (int64, error) {
	if d.NIGOStatus == "" {
		d.NIGOStatus = domain.NIGOUnknown
	}
	var defects any
	if d.Defects != nil {
		b, err := json.Marshal(d.Defects)
		if err != nil {
			return 0, fmt.Errorf("encode defects: %w", err)
		}
		defects = string(b)
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO documents(household_id,account_id,type,name,storage_url,nigo_status,defects_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.HouseholdID, nullableIntPtr(d.AccountID), d.Type, d.Name, d.StorageURL, d.NIGOStatus, defects, d.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	return r.GetDocumentTx(ctx, nil, id)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Document, error) {
	return scanDocument(r.q(tx).QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id))
}

func (r Repo) ListDocuments(ctx context.Context, householdID int64) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentCols+` FROM documents WHERE household_id=? ORDER BY id`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDocumentNIGO(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE documents SET nigo_status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// HouseholdNIGOCounts counts DEFECTS_FOUND documents per household.
func (r Repo) HouseholdNIGOCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT household_id, COUNT(*) FROM documents WHERE nigo_status=? GROUP BY household_id`, domain.NIGODefectsFound)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		res[id] = n
	}
	return res, rows.Err()
}
