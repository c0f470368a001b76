package quitus

import (
	"context"
	"fmt"
	"time"

	"quitus.org/internal/dossier"
	"quitus.org/internal/events"
	"quitus.org/internal/obs"
	"quitus.org/internal/validation"
)

// Generator assembles and persists clearance certificates. At most one
// certificate exists per dossier; repeated calls return the stored one.
type Generator struct {
	dossiers dossier.Store
	ledger   *validation.Ledger
	certs    Store
	stream   *events.Stream
	now      func() time.Time
}

// NewGenerator wires the certificate engine.
func NewGenerator(dossiers dossier.Store, ledger *validation.Ledger, certs Store, stream *events.Stream) *Generator {
	return &Generator{
		dossiers: dossiers,
		ledger:   ledger,
		certs:    certs,
		stream:   stream,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ForDossier returns the certificate issued for a dossier, if any.
func (g *Generator) ForDossier(ctx context.Context, dossierID string) (Certificate, error) {
	return g.certs.LoadByDossier(ctx, dossierID)
}

// Generate issues the certificate for a definitively approved dossier, or
// returns the existing one unchanged. created reports whether this call
// performed the issuance. The insert, the dossier's certificate-number stamp
// and the CLOSED transition commit as one transaction in the store.
func (g *Generator) Generate(ctx context.Context, actorID, dossierID string) (cert Certificate, created bool, err error) {
	d, err := g.dossiers.Load(ctx, dossierID)
	if err != nil {
		return Certificate{}, false, err
	}
	if d.Status != dossier.StatusDefinitivelyApproved && d.Status != dossier.StatusClosed {
		return Certificate{}, false, fmt.Errorf("%w: status %s", ErrNotEligible, d.Status)
	}

	// Idempotent re-issuance: the existing number is reused, never re-minted.
	if d.CertificateNumber != "" {
		existing, err := g.certs.LoadByNumber(ctx, d.CertificateNumber)
		if err != nil {
			return Certificate{}, false, err
		}
		return existing, false, nil
	}

	// Defense in depth: refuse generation when a synthesis no longer reads
	// PASSED, even if the status claims otherwise.
	var syntheses []validation.Synthesis
	for _, role := range []validation.Role{validation.RoleController, validation.RoleAuthorizingOfficer} {
		syn, err := g.ledger.Synthesize(ctx, dossierID, role)
		if err != nil {
			return Certificate{}, false, err
		}
		if syn.Verdict != validation.VerdictPassed {
			return Certificate{}, false, fmt.Errorf("%w: %s synthesis reads %s", ErrNotEligible, role, syn.Verdict)
		}
		syntheses = append(syntheses, syn)
	}

	history, err := g.dossiers.History(ctx, dossierID)
	if err != nil {
		return Certificate{}, false, err
	}

	snapshotBytes, err := BuildSnapshot(d, history, syntheses).Serialize()
	if err != nil {
		return Certificate{}, false, err
	}
	hash := Digest(snapshotBytes)
	number := MintNumber(d.CaseNumber, 1)
	now := g.now()

	candidate := Certificate{
		CertificateNumber: number,
		DossierID:         d.ID,
		GeneratedAt:       now,
		SnapshotBytes:     snapshotBytes,
		IntegrityHash:     hash,
		VerificationToken: DeriveToken(number, hash),
	}
	closeEntry := dossier.TransitionEntry{
		DossierID: d.ID,
		From:      dossier.StatusDefinitivelyApproved,
		To:        dossier.StatusClosed,
		ActorID:   actorID,
		Role:      "accountant",
		At:        now,
	}

	// The unique constraint on dossier_id decides concurrent generation: the
	// loser falls through to the stored certificate.
	stored, created, err := g.certs.InsertIfAbsent(ctx, candidate, closeEntry)
	if err != nil {
		return Certificate{}, false, err
	}
	if created {
		obs.ObserveCertificateIssued()
		obs.ObserveTransition(string(dossier.StatusDefinitivelyApproved), string(dossier.StatusClosed))
		g.stream.Publish(events.Event{
			Kind:              events.KindCertificateIssued,
			DossierID:         d.ID,
			CaseNumber:        d.CaseNumber,
			ActorID:           actorID,
			CertificateNumber: stored.CertificateNumber,
			SnapshotBytes:     stored.SnapshotBytes,
			Timestamp:         now,
		})
		g.stream.Publish(events.Event{
			Kind:       events.KindClosed,
			DossierID:  d.ID,
			CaseNumber: d.CaseNumber,
			From:       string(dossier.StatusDefinitivelyApproved),
			To:         string(dossier.StatusClosed),
			ActorID:    actorID,
			Timestamp:  now,
		})
	}
	return stored, created, nil
}
