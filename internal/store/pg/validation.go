package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quitus.org/internal/dossier"
	"quitus.org/internal/validation"
)

func (s *Store) Append(ctx context.Context, rec validation.Record, requiredStatus dossier.Status) (validation.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return validation.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// The dossier row is locked and its status and review pass re-read under
	// that lock, so a concurrent resubmission cannot land this record on a
	// superseded pass.
	var status string
	var pass int
	err = tx.QueryRowContext(ctx, `select status, review_pass from dossiers where id=$1 for update`, rec.DossierID).Scan(&status, &pass)
	if errors.Is(err, sql.ErrNoRows) {
		return validation.Record{}, dossier.ErrNotFound
	}
	if err != nil {
		return validation.Record{}, err
	}
	if dossier.Status(status) != requiredStatus {
		return validation.Record{}, fmt.Errorf("%w: status %s", validation.ErrNotReviewable, status)
	}
	rec.Pass = pass

	if _, err := tx.ExecContext(ctx, `
		insert into validation_records(id, dossier_id, role, check_id, pass, passed, comment, checked_by, checked_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9)
	`, rec.ID, rec.DossierID, string(rec.Role), rec.CheckID, rec.Pass, rec.Passed, rec.Comment, rec.CheckedBy, rec.CheckedAt); err != nil {
		return validation.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return validation.Record{}, err
	}
	return rec, nil
}

func (s *Store) LatestPass(ctx context.Context, dossierID string, role validation.Role) ([]validation.Record, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, dossier_id, role, check_id, pass, passed, coalesce(comment,''), checked_by, checked_at
		from validation_records
		where dossier_id=$1 and role=$2
		  and pass = (select max(pass) from validation_records where dossier_id=$1 and role=$2)
		order by seq asc
	`, dossierID, string(role))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []validation.Record
	pass := 0
	for rows.Next() {
		var rec validation.Record
		var r string
		if err := rows.Scan(&rec.ID, &rec.DossierID, &r, &rec.CheckID, &rec.Pass, &rec.Passed, &rec.Comment, &rec.CheckedBy, &rec.CheckedAt); err != nil {
			return nil, 0, err
		}
		rec.Role = validation.Role(r)
		pass = rec.Pass
		out = append(out, rec)
	}
	return out, pass, rows.Err()
}
