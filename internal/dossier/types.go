package dossier

import (
	"context"
	"errors"
	"time"
)

// Status is the single source of truth for a dossier's workflow position.
type Status string

const (
	StatusDraft                      Status = "DRAFT"
	StatusPending                    Status = "PENDING"
	StatusControllerApproved         Status = "CONTROLLER_APPROVED"
	StatusRejectedByController       Status = "REJECTED_BY_CONTROLLER"
	StatusAuthorizingOfficerApproved Status = "AUTHORIZING_OFFICER_APPROVED"
	StatusDefinitivelyApproved       Status = "DEFINITIVELY_APPROVED"
	StatusClosed                     Status = "CLOSED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusControllerApproved,
		StatusRejectedByController, StatusAuthorizingOfficerApproved,
		StatusDefinitivelyApproved, StatusClosed:
		return true
	}
	return false
}

// Editable reports whether descriptive fields may still be changed by the clerk.
func (s Status) Editable() bool {
	switch s {
	case StatusDraft, StatusPending, StatusRejectedByController:
		return true
	}
	return false
}

// Dossier is one accounting case moving through the approval pipeline.
type Dossier struct {
	ID         string `json:"id"`
	CaseNumber string `json:"case_number"`
	Status     Status `json:"status"`

	Beneficiary       string `json:"beneficiary"`
	OperationPurpose  string `json:"operation_purpose"`
	AccountingPostRef string `json:"accounting_post_ref"`
	DocumentNatureRef string `json:"document_nature_ref"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Set once at the authorizing-officer transition, immutable afterward.
	// Minor currency units, no floats.
	AuthorizedAmount int64 `json:"authorized_amount,omitempty"`

	RejectionReason string     `json:"rejection_reason,omitempty"`
	RejectionDetail string     `json:"rejection_detail,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`

	// ReviewPass counts review rounds. Starts at 1 on submission and is
	// incremented on every resubmission so validation records from a
	// rejected round are superseded, never deleted.
	ReviewPass int `json:"review_pass"`

	// Presence of CertificateNumber is the canonical "has a certificate" flag.
	CertificateNumber string `json:"certificate_number,omitempty"`
}

// Fields groups the clerk-editable descriptive attributes.
type Fields struct {
	Beneficiary       string `json:"beneficiary"`
	OperationPurpose  string `json:"operation_purpose"`
	AccountingPostRef string `json:"accounting_post_ref"`
	DocumentNatureRef string `json:"document_nature_ref"`
}

// Complete reports whether every mandatory descriptive field is set.
func (f Fields) Complete() bool {
	return f.Beneficiary != "" && f.OperationPurpose != "" &&
		f.AccountingPostRef != "" && f.DocumentNatureRef != ""
}

// TransitionEntry is one timestamped step of the approval history.
type TransitionEntry struct {
	DossierID string    `json:"dossier_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorID   string    `json:"actor_id"`
	Role      string    `json:"role"`
	Comment   string    `json:"comment,omitempty"`
	At        time.Time `json:"at"`
}

var (
	ErrNotFound = errors.New("dossier: not found")
	// ErrConflict means a compare-and-set update lost a race: the stored
	// status no longer matched the expected prior status.
	ErrConflict = errors.New("dossier: status changed concurrently")
	ErrExists   = errors.New("dossier: case number already in use")
)

// Store is the durable table of dossiers. Update is a transactional
// compare-and-set against expectedStatus and expectedPass, recording the
// transition entry atomically with the row update when entry is non-nil.
// Both guards are needed: a reject and resubmit cycle restores the status
// while bumping the review pass, so a status-only check would let a write
// prepared against the superseded pass through.
type Store interface {
	Create(ctx context.Context, d Dossier) error
	Load(ctx context.Context, id string) (Dossier, error)
	Update(ctx context.Context, d Dossier, expectedStatus Status, expectedPass int, entry *TransitionEntry) error
	History(ctx context.Context, id string) ([]TransitionEntry, error)
}
