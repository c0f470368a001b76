package quitus

import (
	"context"
	"crypto/subtle"
	"errors"

	"quitus.org/internal/obs"
)

// Verifier attests certificate authenticity to any holder of the number and
// token. Read-only and side-effect-free; safe to expose without
// authentication.
type Verifier struct {
	certs Store
}

// NewVerifier wires the verifier over the certificate store.
func NewVerifier(certs Store) *Verifier {
	return &Verifier{certs: certs}
}

// Load fetches a stored certificate by number without checking a token.
func (v *Verifier) Load(ctx context.Context, certificateNumber string) (Certificate, error) {
	return v.certs.LoadByNumber(ctx, certificateNumber)
}

// Verify loads the certificate, recomputes the integrity hash over the
// stored snapshot and checks the supplied token independently. A hash
// mismatch reports ErrTampered (storage corruption); a token mismatch
// against an intact hash reports ErrInvalidToken (wrong or forged link).
func (v *Verifier) Verify(ctx context.Context, certificateNumber, suppliedToken string) (Certificate, error) {
	cert, err := v.certs.LoadByNumber(ctx, certificateNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveVerification("not_found")
		}
		return Certificate{}, err
	}

	if Digest(cert.SnapshotBytes) != cert.IntegrityHash {
		obs.ObserveVerification("tampered")
		return Certificate{}, ErrTampered
	}

	expected := DeriveToken(certificateNumber, cert.IntegrityHash)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(suppliedToken)) != 1 {
		obs.ObserveVerification("invalid_token")
		return Certificate{}, ErrInvalidToken
	}

	obs.ObserveVerification("ok")
	return cert, nil
}
