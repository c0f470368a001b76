package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quitus.org/internal/dossier"
	"quitus.org/internal/events"
	"quitus.org/internal/ids"
	"quitus.org/internal/obs"
	"quitus.org/internal/validation"
)

// Actor identifies who is performing an operation. The state machine never
// reads identity from ambient context; callers pass it explicitly.
type Actor struct {
	ID   string
	Role string
}

// Service is the approval state machine. It is the only component that
// mutates dossier status, and every operation is a single atomic
// read-modify-write with the precondition re-checked by the store's
// compare-and-set.
type Service struct {
	dossiers dossier.Store
	ledger   *validation.Ledger
	stream   *events.Stream
	now      func() time.Time
}

// NewService wires the state machine over its collaborators. stream may be
// nil when no out-of-band consumers are attached.
func NewService(dossiers dossier.Store, ledger *validation.Ledger, stream *events.Stream) *Service {
	return &Service{
		dossiers: dossiers,
		ledger:   ledger,
		stream:   stream,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new dossier in DRAFT. Descriptive fields may still be
// incomplete at this point; Submit enforces completeness.
func (s *Service) Create(ctx context.Context, actor Actor, caseNumber string, fields dossier.Fields) (dossier.Dossier, error) {
	caseNumber = strings.TrimSpace(caseNumber)
	if caseNumber == "" {
		return dossier.Dossier{}, fmt.Errorf("%w: case number is required", ErrInvalidInput)
	}
	now := s.now()
	d := dossier.Dossier{
		ID:                ids.New(),
		CaseNumber:        caseNumber,
		Status:            dossier.StatusDraft,
		Beneficiary:       strings.TrimSpace(fields.Beneficiary),
		OperationPurpose:  strings.TrimSpace(fields.OperationPurpose),
		AccountingPostRef: strings.TrimSpace(fields.AccountingPostRef),
		DocumentNatureRef: strings.TrimSpace(fields.DocumentNatureRef),
		CreatedBy:         actor.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.dossiers.Create(ctx, d); err != nil {
		return dossier.Dossier{}, err
	}
	return d, nil
}

// Get loads a dossier.
func (s *Service) Get(ctx context.Context, id string) (dossier.Dossier, error) {
	return s.dossiers.Load(ctx, id)
}

// History returns the timestamped transition history of a dossier.
func (s *Service) History(ctx context.Context, id string) ([]dossier.TransitionEntry, error) {
	return s.dossiers.History(ctx, id)
}

// UpdateFields applies clerk edits to descriptive fields. Allowed only while
// the status is editable (DRAFT, PENDING, REJECTED_BY_CONTROLLER).
func (s *Service) UpdateFields(ctx context.Context, actor Actor, id string, fields dossier.Fields) (dossier.Dossier, error) {
	d, err := s.dossiers.Load(ctx, id)
	if err != nil {
		return dossier.Dossier{}, err
	}
	if !d.Status.Editable() {
		return dossier.Dossier{}, fmt.Errorf("%w: %s", ErrNotEditable, d.Status)
	}
	applyFields(&d, fields)
	d.UpdatedAt = s.now()
	if err := s.update(ctx, d, d.Status, d.ReviewPass, nil); err != nil {
		return dossier.Dossier{}, err
	}
	return d, nil
}

// Submit moves DRAFT -> PENDING. All mandatory descriptive fields must be
// set; there is no validation-ledger dependency.
func (s *Service) Submit(ctx context.Context, actor Actor, id string) (dossier.Dossier, error) {
	return s.transition(ctx, actor, id, dossier.StatusDraft, dossier.StatusPending, events.KindSubmitted, "", func(ctx context.Context, d *dossier.Dossier) error {
		f := dossier.Fields{
			Beneficiary:       d.Beneficiary,
			OperationPurpose:  d.OperationPurpose,
			AccountingPostRef: d.AccountingPostRef,
			DocumentNatureRef: d.DocumentNatureRef,
		}
		if !f.Complete() {
			return ErrIncompleteDossier
		}
		d.ReviewPass = 1
		return nil
	})
}

// ApproveByController moves PENDING -> CONTROLLER_APPROVED. Both the
// fund-control and the operation-type syntheses must read PASSED. The gate
// runs inside the transition's load-to-write window, so the compare-and-set
// fails if a reject and resubmit cycle bumps the review pass after the
// syntheses were read.
func (s *Service) ApproveByController(ctx context.Context, actor Actor, id, comment string) (dossier.Dossier, error) {
	return s.transition(ctx, actor, id, dossier.StatusPending, dossier.StatusControllerApproved, events.KindControllerApproved, comment, func(ctx context.Context, d *dossier.Dossier) error {
		for _, family := range []validation.Family{validation.FamilyFundControl, validation.FamilyOperationType} {
			syn, err := s.ledger.SynthesizeFamily(ctx, d.ID, validation.RoleController, family)
			if err != nil {
				return err
			}
			if syn.Verdict != validation.VerdictPassed {
				return &IncompleteValidationError{Role: validation.RoleController, Family: family, Synthesis: syn}
			}
		}
		return nil
	})
}

// RejectByController moves PENDING -> REJECTED_BY_CONTROLLER. Always
// permitted from PENDING; no ledger gate.
func (s *Service) RejectByController(ctx context.Context, actor Actor, id, reason, detail string) (dossier.Dossier, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return dossier.Dossier{}, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	return s.transition(ctx, actor, id, dossier.StatusPending, dossier.StatusRejectedByController, events.KindControllerRejected, reason, func(ctx context.Context, d *dossier.Dossier) error {
		at := s.now()
		d.RejectionReason = reason
		d.RejectionDetail = strings.TrimSpace(detail)
		d.RejectedAt = &at
		return nil
	})
}

// Resubmit moves REJECTED_BY_CONTROLLER -> PENDING. Rejection fields are
// cleared and the review pass is bumped so stale validation records are
// superseded, not deleted.
func (s *Service) Resubmit(ctx context.Context, actor Actor, id string, fields dossier.Fields) (dossier.Dossier, error) {
	return s.transition(ctx, actor, id, dossier.StatusRejectedByController, dossier.StatusPending, events.KindResubmitted, "", func(ctx context.Context, d *dossier.Dossier) error {
		applyFields(d, fields)
		d.RejectionReason = ""
		d.RejectionDetail = ""
		d.RejectedAt = nil
		d.ReviewPass++
		return nil
	})
}

// Authorize moves CONTROLLER_APPROVED -> AUTHORIZING_OFFICER_APPROVED and
// sets the authorized amount. The authorizing-officer synthesis must read
// PASSED.
func (s *Service) Authorize(ctx context.Context, actor Actor, id string, amount int64, comment string) (dossier.Dossier, error) {
	if amount <= 0 {
		return dossier.Dossier{}, fmt.Errorf("%w: authorized amount must be > 0", ErrInvalidInput)
	}
	return s.transition(ctx, actor, id, dossier.StatusControllerApproved, dossier.StatusAuthorizingOfficerApproved, events.KindAuthorized, comment, func(ctx context.Context, d *dossier.Dossier) error {
		syn, err := s.ledger.Synthesize(ctx, d.ID, validation.RoleAuthorizingOfficer)
		if err != nil {
			return err
		}
		if syn.Verdict != validation.VerdictPassed {
			return &IncompleteValidationError{Role: validation.RoleAuthorizingOfficer, Synthesis: syn}
		}
		d.AuthorizedAmount = amount
		return nil
	})
}

// FinalizeByAccountant moves AUTHORIZING_OFFICER_APPROVED ->
// DEFINITIVELY_APPROVED. The accountant's own sign-off is the gate.
func (s *Service) FinalizeByAccountant(ctx context.Context, actor Actor, id, comment string) (dossier.Dossier, error) {
	return s.transition(ctx, actor, id, dossier.StatusAuthorizingOfficerApproved, dossier.StatusDefinitivelyApproved, events.KindFinalized, comment, nil)
}

// Close moves DEFINITIVELY_APPROVED -> CLOSED. Certificate issuance normally
// performs this inside the store transaction; the method exists for
// operational closes without a certificate. Not exposed over HTTP.
func (s *Service) Close(ctx context.Context, actor Actor, id string) (dossier.Dossier, error) {
	return s.transition(ctx, actor, id, dossier.StatusDefinitivelyApproved, dossier.StatusClosed, events.KindClosed, "", nil)
}

// transition performs one edge of the graph as an atomic compare-and-set.
// mutate runs against the loaded copy before the write, so gate checks it
// performs are covered by the same expected status and review pass the
// compare-and-set re-verifies. A CAS conflict is surfaced as
// InvalidTransition with the status found on re-read.
func (s *Service) transition(ctx context.Context, actor Actor, id string, from, to dossier.Status, kind events.Kind, comment string, mutate func(context.Context, *dossier.Dossier) error) (dossier.Dossier, error) {
	if !dossier.CanTransition(from, to) {
		return dossier.Dossier{}, &InvalidTransitionError{From: from, To: to, Current: from}
	}
	d, err := s.dossiers.Load(ctx, id)
	if err != nil {
		return dossier.Dossier{}, err
	}
	if d.Status != from {
		return dossier.Dossier{}, &InvalidTransitionError{From: from, To: to, Current: d.Status}
	}
	expectedPass := d.ReviewPass
	if mutate != nil {
		if err := mutate(ctx, &d); err != nil {
			return dossier.Dossier{}, err
		}
	}
	now := s.now()
	d.Status = to
	d.UpdatedAt = now

	entry := &dossier.TransitionEntry{
		DossierID: d.ID,
		From:      from,
		To:        to,
		ActorID:   actor.ID,
		Role:      actor.Role,
		Comment:   strings.TrimSpace(comment),
		At:        now,
	}
	if err := s.update(ctx, d, from, expectedPass, entry); err != nil {
		if errors.Is(err, dossier.ErrConflict) {
			// d.Status already holds the target; without a successful re-read
			// the source status is the best truthful answer.
			current := from
			if fresh, loadErr := s.dossiers.Load(ctx, id); loadErr == nil {
				current = fresh.Status
			}
			return dossier.Dossier{}, &InvalidTransitionError{From: from, To: to, Current: current}
		}
		return dossier.Dossier{}, err
	}

	obs.ObserveTransition(string(from), string(to))
	s.stream.Publish(events.Event{
		Kind:       kind,
		DossierID:  d.ID,
		CaseNumber: d.CaseNumber,
		From:       string(from),
		To:         string(to),
		ActorID:    actor.ID,
		Timestamp:  now,
	})
	return d, nil
}

// update writes through the store's compare-and-set, retrying exactly once
// after a transient failure. The precondition is re-checked by the CAS on
// the retry, so nothing is double-applied.
func (s *Service) update(ctx context.Context, d dossier.Dossier, expected dossier.Status, expectedPass int, entry *dossier.TransitionEntry) error {
	err := s.dossiers.Update(ctx, d, expected, expectedPass, entry)
	if err == nil || errors.Is(err, dossier.ErrConflict) || errors.Is(err, dossier.ErrNotFound) {
		return err
	}
	err = s.dossiers.Update(ctx, d, expected, expectedPass, entry)
	if err == nil || errors.Is(err, dossier.ErrConflict) || errors.Is(err, dossier.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func applyFields(d *dossier.Dossier, fields dossier.Fields) {
	if v := strings.TrimSpace(fields.Beneficiary); v != "" {
		d.Beneficiary = v
	}
	if v := strings.TrimSpace(fields.OperationPurpose); v != "" {
		d.OperationPurpose = v
	}
	if v := strings.TrimSpace(fields.AccountingPostRef); v != "" {
		d.AccountingPostRef = v
	}
	if v := strings.TrimSpace(fields.DocumentNatureRef); v != "" {
		d.DocumentNatureRef = v
	}
}
