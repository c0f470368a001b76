package quitus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"quitus.org/internal/dossier"
	"quitus.org/internal/validation"
)

// Snapshot is the frozen copy of a fully-approved dossier captured at
// generation time: identity, approval history and both syntheses. It is
// never recomputed from live data afterward.
//
// Canonical form: json.Marshal of this struct. Field order is fixed by
// declaration, timestamps are pre-formatted RFC3339 UTC strings and amounts
// are integers in minor units, so identical snapshots serialize to identical
// bytes. The security block (hash, token) is never part of the snapshot.
type Snapshot struct {
	DossierID         string              `json:"dossier_id"`
	CaseNumber        string              `json:"case_number"`
	Beneficiary       string              `json:"beneficiary"`
	OperationPurpose  string              `json:"operation_purpose"`
	AccountingPostRef string              `json:"accounting_post_ref"`
	DocumentNatureRef string              `json:"document_nature_ref"`
	CreatedBy         string              `json:"created_by"`
	AuthorizedAmount  int64               `json:"authorized_amount"`
	History           []SnapshotStep      `json:"history"`
	Syntheses         []SnapshotSynthesis `json:"syntheses"`
}

// SnapshotStep is one approval-history entry in canonical form.
type SnapshotStep struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Comment string `json:"comment"`
	At      string `json:"at"` // RFC3339 UTC
}

// SnapshotSynthesis is a per-role verdict roll-up in canonical form.
type SnapshotSynthesis struct {
	Role        string `json:"role"`
	Pass        int    `json:"pass"`
	Total       int    `json:"total"`
	PassedCount int    `json:"passed_count"`
	FailedCount int    `json:"failed_count"`
	Verdict     string `json:"verdict"`
}

// BuildSnapshot assembles the canonical snapshot from live data.
func BuildSnapshot(d dossier.Dossier, history []dossier.TransitionEntry, syntheses []validation.Synthesis) Snapshot {
	snap := Snapshot{
		DossierID:         d.ID,
		CaseNumber:        d.CaseNumber,
		Beneficiary:       d.Beneficiary,
		OperationPurpose:  d.OperationPurpose,
		AccountingPostRef: d.AccountingPostRef,
		DocumentNatureRef: d.DocumentNatureRef,
		CreatedBy:         d.CreatedBy,
		AuthorizedAmount:  d.AuthorizedAmount,
		History:           make([]SnapshotStep, 0, len(history)),
		Syntheses:         make([]SnapshotSynthesis, 0, len(syntheses)),
	}
	for _, h := range history {
		snap.History = append(snap.History, SnapshotStep{
			From:    string(h.From),
			To:      string(h.To),
			ActorID: h.ActorID,
			Role:    h.Role,
			Comment: h.Comment,
			At:      h.At.UTC().Format(time.RFC3339),
		})
	}
	for _, s := range syntheses {
		snap.Syntheses = append(snap.Syntheses, SnapshotSynthesis{
			Role:        string(s.Role),
			Pass:        s.Pass,
			Total:       s.Total,
			PassedCount: s.PassedCount,
			FailedCount: s.FailedCount,
			Verdict:     string(s.Verdict),
		})
	}
	return snap
}

// Serialize produces the canonical bytes the integrity hash covers.
func (s Snapshot) Serialize() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("serialize snapshot: %w", err)
	}
	return data, nil
}

// Digest computes the integrity hash over canonical snapshot bytes.
func Digest(snapshotBytes []byte) string {
	sum := sha256.Sum256(snapshotBytes)
	return hex.EncodeToString(sum[:])
}

// MintNumber builds the certificate number from the case number and the
// generation sequence. Format: Q-<caseNumber>-<seq>. Uniqueness is
// guaranteed by the store's constraint, not by the format alone.
func MintNumber(caseNumber string, seq int) string {
	return fmt.Sprintf("Q-%s-%d", caseNumber, seq)
}

// DeriveToken derives the public verification token from the certificate
// number and the integrity hash. Deterministic: identical inputs always
// yield an identical token.
func DeriveToken(certificateNumber, integrityHash string) string {
	sum := sha256.Sum256([]byte("quitus-verify:" + certificateNumber + ":" + integrityHash))
	return hex.EncodeToString(sum[:16])
}
