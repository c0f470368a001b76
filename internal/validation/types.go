package validation

import (
	"context"
	"errors"
	"time"

	"quitus.org/internal/dossier"
)

// Role identifies which reviewer performed a check.
type Role string

const (
	RoleController         Role = "CONTROLLER"
	RoleAuthorizingOfficer Role = "AUTHORIZING_OFFICER"
)

// Valid reports whether r is a known reviewer role.
func (r Role) Valid() bool {
	return r == RoleController || r == RoleAuthorizingOfficer
}

// Family groups check definitions into the synthesis buckets the approval
// gates consult: the controller gate needs fund-control and operation-type
// verdicts separately.
type Family string

const (
	FamilyFundControl   Family = "FUND_CONTROL"
	FamilyOperationType Family = "OPERATION_TYPE"
	FamilyAuthorization Family = "AUTHORIZATION"
)

// Record is one atomic check performed by a reviewer. Records are immutable
// once written; corrections are a fresh record in the same pass.
type Record struct {
	ID        string    `json:"id"`
	DossierID string    `json:"dossier_id"`
	Role      Role      `json:"role"`
	CheckID   string    `json:"check_id"`
	Pass      int       `json:"pass"` // review round, bumped on resubmission
	Passed    bool      `json:"passed"`
	Comment   string    `json:"comment,omitempty"`
	CheckedBy string    `json:"checked_by"`
	CheckedAt time.Time `json:"checked_at"`
}

// Verdict is the roll-up outcome of a synthesis.
type Verdict string

const (
	VerdictPassed     Verdict = "PASSED"
	VerdictFailed     Verdict = "FAILED"
	VerdictIncomplete Verdict = "INCOMPLETE"
)

// Synthesis is the derived roll-up of the latest pass of records for a
// (dossier, role) pair, optionally narrowed to one check family.
type Synthesis struct {
	DossierID   string   `json:"dossier_id"`
	Role        Role     `json:"role"`
	Family      Family   `json:"family,omitempty"`
	Pass        int      `json:"pass"`
	Total       int      `json:"total"`
	PassedCount int      `json:"passed_count"`
	FailedCount int      `json:"failed_count"`
	Verdict     Verdict  `json:"verdict"`
	Missing     []string `json:"missing,omitempty"` // mandatory check ids absent from the pass
	Failed      []string `json:"failed,omitempty"`  // check ids with an explicit failure
}

var (
	ErrUnknownCheck = errors.New("validation: unknown check definition")
	ErrWrongRole    = errors.New("validation: check does not belong to this role")
	// ErrNotReviewable means the dossier's current status does not admit
	// review by the acting role.
	ErrNotReviewable = errors.New("validation: dossier not reviewable by this role")
)

// Store is the append-only ledger of validation records. Append verifies the
// dossier is in requiredStatus and stamps the record with the dossier's
// current review pass, both read in the same transaction as the insert so a
// concurrent resubmission cannot slip a record onto a superseded pass.
// LatestPass returns the records of the highest pass number recorded for the
// role, together with that pass number (0 when no records exist).
type Store interface {
	Append(ctx context.Context, rec Record, requiredStatus dossier.Status) (Record, error)
	LatestPass(ctx context.Context, dossierID string, role Role) ([]Record, int, error)
}
