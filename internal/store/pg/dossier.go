package pg

import (
	"context"
	"database/sql"
	"errors"

	"quitus.org/internal/dossier"
)

const dossierColumns = `
	id, case_number, status,
	beneficiary, operation_purpose, accounting_post_ref, document_nature_ref,
	created_by, created_at, updated_at,
	authorized_amount,
	coalesce(rejection_reason,''), coalesce(rejection_detail,''), rejected_at,
	review_pass, coalesce(certificate_number,'')`

func (s *Store) Create(ctx context.Context, d dossier.Dossier) error {
	_, err := s.db.ExecContext(ctx, `
		insert into dossiers(
			id, case_number, status,
			beneficiary, operation_purpose, accounting_post_ref, document_nature_ref,
			created_by, created_at, updated_at, authorized_amount, review_pass
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, d.ID, d.CaseNumber, string(d.Status),
		d.Beneficiary, d.OperationPurpose, d.AccountingPostRef, d.DocumentNatureRef,
		d.CreatedBy, d.CreatedAt, d.UpdatedAt, d.AuthorizedAmount, d.ReviewPass)
	if uniqueViolation(err) {
		return dossier.ErrExists
	}
	return err
}

func (s *Store) Load(ctx context.Context, id string) (dossier.Dossier, error) {
	row := s.db.QueryRowContext(ctx, `select `+dossierColumns+` from dossiers where id=$1`, id)
	return scanDossier(row)
}

func (s *Store) Update(ctx context.Context, d dossier.Dossier, expectedStatus dossier.Status, expectedPass int, entry *dossier.TransitionEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update dossiers set
			status=$4,
			beneficiary=$5, operation_purpose=$6, accounting_post_ref=$7, document_nature_ref=$8,
			updated_at=$9, authorized_amount=$10,
			rejection_reason=nullif($11,''), rejection_detail=nullif($12,''), rejected_at=$13,
			review_pass=$14, certificate_number=nullif($15,'')
		where id=$1 and status=$2 and review_pass=$3
	`, d.ID, string(expectedStatus), expectedPass, string(d.Status),
		d.Beneficiary, d.OperationPurpose, d.AccountingPostRef, d.DocumentNatureRef,
		d.UpdatedAt, d.AuthorizedAmount,
		d.RejectionReason, d.RejectionDetail, d.RejectedAt,
		d.ReviewPass, d.CertificateNumber)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a lost race from a missing row.
		var one int
		err := tx.QueryRowContext(ctx, `select 1 from dossiers where id=$1`, d.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return dossier.ErrNotFound
		}
		if err != nil {
			return err
		}
		return dossier.ErrConflict
	}

	if entry != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into dossier_history(dossier_id, from_status, to_status, actor_id, role, comment, at)
			values ($1,$2,$3,$4,$5,nullif($6,''),$7)
		`, entry.DossierID, string(entry.From), string(entry.To), entry.ActorID, entry.Role, entry.Comment, entry.At); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) History(ctx context.Context, id string) ([]dossier.TransitionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select dossier_id, from_status, to_status, actor_id, role, coalesce(comment,''), at
		from dossier_history
		where dossier_id=$1
		order by seq asc
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dossier.TransitionEntry
	for rows.Next() {
		var e dossier.TransitionEntry
		var from, to string
		if err := rows.Scan(&e.DossierID, &from, &to, &e.ActorID, &e.Role, &e.Comment, &e.At); err != nil {
			return nil, err
		}
		e.From = dossier.Status(from)
		e.To = dossier.Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDossier(row rowScanner) (dossier.Dossier, error) {
	var d dossier.Dossier
	var status string
	var rejectedAt sql.NullTime
	err := row.Scan(
		&d.ID, &d.CaseNumber, &status,
		&d.Beneficiary, &d.OperationPurpose, &d.AccountingPostRef, &d.DocumentNatureRef,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
		&d.AuthorizedAmount,
		&d.RejectionReason, &d.RejectionDetail, &rejectedAt,
		&d.ReviewPass, &d.CertificateNumber,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return dossier.Dossier{}, dossier.ErrNotFound
	}
	if err != nil {
		return dossier.Dossier{}, err
	}
	d.Status = dossier.Status(status)
	if rejectedAt.Valid {
		t := rejectedAt.Time
		d.RejectedAt = &t
	}
	return d, nil
}
