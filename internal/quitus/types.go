package quitus

import (
	"context"
	"errors"
	"time"

	"quitus.org/internal/dossier"
)

// Certificate is the immutable clearance document issued once a dossier is
// fully approved. SnapshotBytes is the canonical serialization hashed at
// generation time; it must round-trip byte-identical through storage.
type Certificate struct {
	CertificateNumber string    `json:"certificate_number"`
	DossierID         string    `json:"dossier_id"`
	GeneratedAt       time.Time `json:"generated_at"`
	SnapshotBytes     []byte    `json:"snapshot"`
	IntegrityHash     string    `json:"integrity_hash"`
	VerificationToken string    `json:"verification_token"`
}

var (
	ErrNotFound = errors.New("quitus: certificate not found")
	// ErrNotEligible means the dossier is not in an approved terminal status,
	// or a synthesis no longer reads PASSED.
	ErrNotEligible = errors.New("quitus: dossier not eligible for a certificate")
	// ErrTampered means the stored snapshot no longer matches the integrity
	// hash computed at generation time. Security-relevant; never downgraded
	// to a generic not-found.
	ErrTampered = errors.New("quitus: certificate snapshot was altered after storage")
	// ErrInvalidToken means the supplied verification token does not match an
	// otherwise intact certificate.
	ErrInvalidToken = errors.New("quitus: verification token mismatch")
)

// Store persists certificates. InsertIfAbsent is atomic with respect to the
// unique constraint on DossierID: when a certificate already exists the
// stored one is returned with created=false. On a successful insert the
// implementation, in the same transaction, stamps the certificate number on
// the dossier and applies closeEntry (DEFINITIVELY_APPROVED -> CLOSED)
// unless the dossier is already closed.
type Store interface {
	InsertIfAbsent(ctx context.Context, cert Certificate, closeEntry dossier.TransitionEntry) (Certificate, bool, error)
	LoadByNumber(ctx context.Context, certificateNumber string) (Certificate, error)
	LoadByDossier(ctx context.Context, dossierID string) (Certificate, error)
}
