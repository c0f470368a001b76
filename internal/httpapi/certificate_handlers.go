package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"quitus.org/internal/auth"
	"quitus.org/internal/quitus"
)

type certificateResponse struct {
	CertificateNumber string `json:"certificate_number"`
	DossierID         string `json:"dossier_id"`
	GeneratedAt       string `json:"generated_at"`
	IntegrityHash     string `json:"integrity_hash"`
	VerificationToken string `json:"verification_token"`
	VerificationURL   string `json:"verification_url"`
	Snapshot          any    `json:"snapshot,omitempty"`
}

func certResponse(cert quitus.Certificate, includeSnapshot bool) certificateResponse {
	resp := certificateResponse{
		CertificateNumber: cert.CertificateNumber,
		DossierID:         cert.DossierID,
		GeneratedAt:       cert.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		IntegrityHash:     cert.IntegrityHash,
		VerificationToken: cert.VerificationToken,
		VerificationURL:   "/v1/verify?number=" + cert.CertificateNumber + "&token=" + cert.VerificationToken,
	}
	if includeSnapshot {
		// Raw canonical bytes; re-encoding could reorder keys.
		resp.Snapshot = jsonRaw(cert.SnapshotBytes)
	}
	return resp
}

// generateCertificate covers /v1/dossiers/{id}/certificate: POST issues (or
// re-reads) the certificate, GET returns the issued one without touching the
// dossier.
func (a *API) generateCertificate(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method == http.MethodGet {
		cert, err := a.generator.ForDossier(r.Context(), id)
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, certResponse(cert, false))
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	actor, err := actorWithRole(r.Context(), auth.RoleAccountant)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	cert, created, err := a.generator.Generate(r.Context(), actor.ID, id)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}

	event := "certificate.reissue"
	code := http.StatusOK
	if created {
		event = "certificate.generate"
		code = http.StatusCreated
	}
	a.audit(r.Context(), event, "certificate", cert.CertificateNumber, map[string]string{
		"dossier_id": cert.DossierID,
	})
	writeJSON(w, code, certResponse(cert, false))
}

// handleCertificateResource covers GET /v1/certificates/{number}.
func (a *API) handleCertificateResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	number := strings.TrimPrefix(r.URL.Path, "/v1/certificates/")
	if number == "" || strings.Contains(number, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	cert, err := a.verifier.Load(r.Context(), number)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, certResponse(cert, true))
}

// handleVerify is the public verification surface behind the QR payload:
// GET /v1/verify?number=...&token=... No authentication required; tampering
// and bad tokens are reported distinctly.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	number := strings.TrimSpace(r.URL.Query().Get("number"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if number == "" || token == "" {
		writeError(w, r, http.StatusBadRequest, "number and token query parameters are required")
		return
	}

	cert, err := a.verifier.Verify(r.Context(), number, token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "ok",
			"certificate_number": cert.CertificateNumber,
			"generated_at":       cert.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			"snapshot":           jsonRaw(cert.SnapshotBytes),
		})
	case errors.Is(err, quitus.ErrTampered):
		// Security-relevant: distinct from not-found by design of the audit trail.
		writeJSON(w, http.StatusConflict, map[string]any{
			"status": "tampered",
			"error":  err.Error(),
		})
	case errors.Is(err, quitus.ErrInvalidToken):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"status": "invalid_token",
			"error":  err.Error(),
		})
	case errors.Is(err, quitus.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "not_found",
			"error":  err.Error(),
		})
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

type jsonRaw []byte

func (r jsonRaw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}
