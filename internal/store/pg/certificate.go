package pg

import (
	"context"
	"database/sql"
	"errors"

	"quitus.org/internal/dossier"
	"quitus.org/internal/quitus"
)

func (s *Store) InsertIfAbsent(ctx context.Context, cert quitus.Certificate, closeEntry dossier.TransitionEntry) (quitus.Certificate, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return quitus.Certificate{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// The unique constraint on dossier_id decides concurrent generation: the
	// losing writer inserts nothing and falls through to the stored row.
	res, err := tx.ExecContext(ctx, `
		insert into certificates(certificate_number, dossier_id, generated_at, snapshot, integrity_hash, verification_token)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (dossier_id) do nothing
	`, cert.CertificateNumber, cert.DossierID, cert.GeneratedAt, cert.SnapshotBytes, cert.IntegrityHash, cert.VerificationToken)
	if err != nil {
		return quitus.Certificate{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return quitus.Certificate{}, false, err
	}

	if affected == 0 {
		existing, err := loadCertificate(ctx, tx, `dossier_id=$1`, cert.DossierID)
		if err != nil {
			return quitus.Certificate{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return quitus.Certificate{}, false, err
		}
		return existing, false, nil
	}

	// Same transaction: stamp the certificate number and close the dossier.
	if _, err := tx.ExecContext(ctx, `
		update dossiers set certificate_number=$2, updated_at=$3 where id=$1
	`, cert.DossierID, cert.CertificateNumber, cert.GeneratedAt); err != nil {
		return quitus.Certificate{}, false, err
	}
	closed, err := tx.ExecContext(ctx, `
		update dossiers set status=$3, updated_at=$4 where id=$1 and status=$2
	`, cert.DossierID, string(dossier.StatusDefinitivelyApproved), string(dossier.StatusClosed), cert.GeneratedAt)
	if err != nil {
		return quitus.Certificate{}, false, err
	}
	if n, err := closed.RowsAffected(); err == nil && n > 0 {
		if _, err := tx.ExecContext(ctx, `
			insert into dossier_history(dossier_id, from_status, to_status, actor_id, role, comment, at)
			values ($1,$2,$3,$4,$5,nullif($6,''),$7)
		`, closeEntry.DossierID, string(closeEntry.From), string(closeEntry.To), closeEntry.ActorID, closeEntry.Role, closeEntry.Comment, closeEntry.At); err != nil {
			return quitus.Certificate{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return quitus.Certificate{}, false, err
	}
	return cert, true, nil
}

func (s *Store) LoadByNumber(ctx context.Context, certificateNumber string) (quitus.Certificate, error) {
	return loadCertificate(ctx, s.db, `certificate_number=$1`, certificateNumber)
}

func (s *Store) LoadByDossier(ctx context.Context, dossierID string) (quitus.Certificate, error) {
	return loadCertificate(ctx, s.db, `dossier_id=$1`, dossierID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadCertificate(ctx context.Context, q querier, where string, arg any) (quitus.Certificate, error) {
	var cert quitus.Certificate
	err := q.QueryRowContext(ctx, `
		select certificate_number, dossier_id, generated_at, snapshot, integrity_hash, verification_token
		from certificates where `+where, arg).Scan(
		&cert.CertificateNumber, &cert.DossierID, &cert.GeneratedAt,
		&cert.SnapshotBytes, &cert.IntegrityHash, &cert.VerificationToken)
	if errors.Is(err, sql.ErrNoRows) {
		return quitus.Certificate{}, quitus.ErrNotFound
	}
	if err != nil {
		return quitus.Certificate{}, err
	}
	return cert, nil
}
