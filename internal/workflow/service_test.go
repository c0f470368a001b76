package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quitus.org/internal/dossier"
	"quitus.org/internal/store/mem"
	"quitus.org/internal/validation"
)

var completeFields = dossier.Fields{
	Beneficiary:       "ACME Supplies",
	OperationPurpose:  "Office equipment",
	AccountingPostRef: "AP-2025-17",
	DocumentNatureRef: "INVOICE",
}

func newTestService(t *testing.T) (*Service, *validation.Ledger, *mem.Store) {
	t.Helper()
	store := mem.New()
	ledger := validation.NewLedger(store, store, nil)
	return NewService(store, ledger, nil), ledger, store
}

func mustCreate(t *testing.T, s *Service, caseNumber string) dossier.Dossier {
	t.Helper()
	d, err := s.Create(context.Background(), Actor{ID: "clerk-1", Role: "clerk"}, caseNumber, completeFields)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return d
}

func recordChecks(t *testing.T, l *validation.Ledger, id string, role validation.Role, actorID string, checks map[string]bool) {
	t.Helper()
	for checkID, passed := range checks {
		if _, err := l.RecordCheck(context.Background(), id, role, checkID, passed, "", actorID); err != nil {
			t.Fatalf("RecordCheck(%s): %v", checkID, err)
		}
	}
}

func controllerChecks(passed bool) map[string]bool {
	return map[string]bool{
		"fc.appropriation": passed, "fc.commitment": passed,
		"ot.nature": passed, "ot.justification": passed,
	}
}

func officerChecks(passed bool) map[string]bool {
	return map[string]bool{"ao.service_rendered": passed, "ao.amount": passed}
}

func advanceToControllerApproved(t *testing.T, s *Service, l *validation.Ledger, id string) dossier.Dossier {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Submit(ctx, Actor{ID: "clerk-1", Role: "clerk"}, id); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	recordChecks(t, l, id, validation.RoleController, "ctrl-1", controllerChecks(true))
	d, err := s.ApproveByController(ctx, Actor{ID: "ctrl-1", Role: "controller"}, id, "all good")
	if err != nil {
		t.Fatalf("ApproveByController: %v", err)
	}
	return d
}

func advanceToDefinitivelyApproved(t *testing.T, s *Service, l *validation.Ledger, id string) dossier.Dossier {
	t.Helper()
	ctx := context.Background()
	advanceToControllerApproved(t, s, l, id)
	recordChecks(t, l, id, validation.RoleAuthorizingOfficer, "ao-1", officerChecks(true))
	if _, err := s.Authorize(ctx, Actor{ID: "ao-1", Role: "authorizing_officer"}, id, 125000, ""); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	d, err := s.FinalizeByAccountant(ctx, Actor{ID: "acct-1", Role: "accountant"}, id, "")
	if err != nil {
		t.Fatalf("FinalizeByAccountant: %v", err)
	}
	return d
}

func TestCreateValidation(t *testing.T) {
	s, _, _ := newTestService(t)
	if _, err := s.Create(context.Background(), Actor{ID: "clerk-1"}, "  ", completeFields); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank case number, got %v", err)
	}

	d := mustCreate(t, s, "D-2025-001")
	if d.Status != dossier.StatusDraft || d.ReviewPass != 0 {
		t.Fatalf("unexpected new dossier: %+v", d)
	}

	if _, err := s.Create(context.Background(), Actor{ID: "clerk-1"}, "D-2025-001", completeFields); !errors.Is(err, dossier.ErrExists) {
		t.Fatalf("expected ErrExists for duplicate case number, got %v", err)
	}
}

func TestSubmitRequiresCompleteFields(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	clerk := Actor{ID: "clerk-1", Role: "clerk"}

	incomplete := completeFields
	incomplete.Beneficiary = ""
	d, err := s.Create(ctx, clerk, "D-2025-002", incomplete)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(ctx, clerk, d.ID); !errors.Is(err, ErrIncompleteDossier) {
		t.Fatalf("expected ErrIncompleteDossier, got %v", err)
	}

	// Fill the gap and submit.
	if _, err := s.UpdateFields(ctx, clerk, d.ID, dossier.Fields{Beneficiary: "ACME"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Submit(ctx, clerk, d.ID)
	if err != nil {
		t.Fatalf("Submit after completion: %v", err)
	}
	if got.Status != dossier.StatusPending || got.ReviewPass != 1 {
		t.Fatalf("unexpected dossier after submit: %+v", got)
	}
}

func TestApproveGateReadsBothFamilies(t *testing.T) {
	s, l, _ := newTestService(t)
	ctx := context.Background()
	d := mustCreate(t, s, "D-2025-003")
	if _, err := s.Submit(ctx, Actor{ID: "clerk-1", Role: "clerk"}, d.ID); err != nil {
		t.Fatal(err)
	}

	// Only fund-control recorded: operation-type family is incomplete.
	recordChecks(t, l, d.ID, validation.RoleController, "ctrl-1", map[string]bool{
		"fc.appropriation": true, "fc.commitment": true,
	})
	_, err := s.ApproveByController(ctx, Actor{ID: "ctrl-1", Role: "controller"}, d.ID, "")
	var incomplete *IncompleteValidationError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteValidationError, got %v", err)
	}
	if incomplete.Family != validation.FamilyOperationType {
		t.Fatalf("expected operation-type family to block, got %s", incomplete.Family)
	}

	recordChecks(t, l, d.ID, validation.RoleController, "ctrl-1", map[string]bool{
		"ot.nature": true, "ot.justification": true,
	})
	got, err := s.ApproveByController(ctx, Actor{ID: "ctrl-1", Role: "controller"}, d.ID, "ok")
	if err != nil {
		t.Fatalf("ApproveByController: %v", err)
	}
	if got.Status != dossier.StatusControllerApproved {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}

func TestRejectAndResubmit(t *testing.T) {
	s, l, _ := newTestService(t)
	ctx := context.Background()
	clerk := Actor{ID: "clerk-1", Role: "clerk"}
	ctrl := Actor{ID: "ctrl-1", Role: "controller"}

	d := mustCreate(t, s, "D-2025-004")
	if _, err := s.Submit(ctx, clerk, d.ID); err != nil {
		t.Fatal(err)
	}
	recordChecks(t, l, d.ID, validation.RoleController, "ctrl-1", map[string]bool{"fc.commitment": false})

	if _, err := s.RejectByController(ctx, ctrl, d.ID, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty reason, got %v", err)
	}
	rejected, err := s.RejectByController(ctx, ctrl, d.ID, "commitment mismatch", "amount not reserved")
	if err != nil {
		t.Fatalf("RejectByController: %v", err)
	}
	if rejected.Status != dossier.StatusRejectedByController || rejected.RejectionReason == "" || rejected.RejectedAt == nil {
		t.Fatalf("unexpected rejected dossier: %+v", rejected)
	}

	resubmitted, err := s.Resubmit(ctx, clerk, d.ID, dossier.Fields{OperationPurpose: "Office equipment, corrected"})
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if resubmitted.Status != dossier.StatusPending || resubmitted.ReviewPass != 2 {
		t.Fatalf("expected PENDING pass 2, got %+v", resubmitted)
	}
	if resubmitted.RejectionReason != "" || resubmitted.RejectedAt != nil {
		t.Fatalf("rejection fields not cleared: %+v", resubmitted)
	}

	// The pass-1 failure no longer blocks: fresh pass-2 checks decide.
	recordChecks(t, l, d.ID, validation.RoleController, "ctrl-1", controllerChecks(true))
	approved, err := s.ApproveByController(ctx, ctrl, d.ID, "")
	if err != nil {
		t.Fatalf("ApproveByController after resubmit: %v", err)
	}
	if approved.Status != dossier.StatusControllerApproved {
		t.Fatalf("unexpected status: %s", approved.Status)
	}
}

func TestAuthorizeGate(t *testing.T) {
	s, l, _ := newTestService(t)
	ctx := context.Background()
	ao := Actor{ID: "ao-1", Role: "authorizing_officer"}

	d := mustCreate(t, s, "D-2025-005")
	advanceToControllerApproved(t, s, l, d.ID)

	if _, err := s.Authorize(ctx, ao, d.ID, 0, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero amount, got %v", err)
	}

	// No officer checks recorded yet.
	_, err := s.Authorize(ctx, ao, d.ID, 125000, "")
	var incomplete *IncompleteValidationError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteValidationError, got %v", err)
	}

	// An explicit failure blocks, a correcting record unblocks.
	recordChecks(t, l, d.ID, validation.RoleAuthorizingOfficer, "ao-1", map[string]bool{
		"ao.service_rendered": true, "ao.amount": false,
	})
	if _, err := s.Authorize(ctx, ao, d.ID, 125000, ""); !errors.As(err, &incomplete) {
		t.Fatalf("expected gate failure, got %v", err)
	}
	recordChecks(t, l, d.ID, validation.RoleAuthorizingOfficer, "ao-1", map[string]bool{"ao.amount": true})

	got, err := s.Authorize(ctx, ao, d.ID, 125000, "verified")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got.Status != dossier.StatusAuthorizingOfficerApproved || got.AuthorizedAmount != 125000 {
		t.Fatalf("unexpected dossier: %+v", got)
	}
}

func TestInvalidTransitions(t *testing.T) {
	s, l, _ := newTestService(t)
	ctx := context.Background()
	d := mustCreate(t, s, "D-2025-006")

	var invalid *InvalidTransitionError

	// Approve straight from DRAFT.
	if _, err := s.ApproveByController(ctx, Actor{ID: "ctrl-1", Role: "controller"}, d.ID, ""); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.Current != dossier.StatusDraft {
		t.Fatalf("expected current DRAFT, got %s", invalid.Current)
	}

	// Authorize from PENDING.
	if _, err := s.Submit(ctx, Actor{ID: "clerk-1", Role: "clerk"}, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authorize(ctx, Actor{ID: "ao-1", Role: "authorizing_officer"}, d.ID, 100, ""); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// Submit twice.
	if _, err := s.Submit(ctx, Actor{ID: "clerk-1", Role: "clerk"}, d.ID); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError on double submit, got %v", err)
	}

	// Finalize and check edits are locked.
	advanceToDefinitivelyApprovedFromPending(t, s, l, d.ID)
	if _, err := s.UpdateFields(ctx, Actor{ID: "clerk-1", Role: "clerk"}, d.ID, completeFields); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
}

// advanceToDefinitivelyApprovedFromPending drives an already-PENDING dossier
// through controller, officer and accountant steps.
func advanceToDefinitivelyApprovedFromPending(t *testing.T, s *Service, l *validation.Ledger, id string) {
	t.Helper()
	ctx := context.Background()
	recordChecks(t, l, id, validation.RoleController, "ctrl-1", controllerChecks(true))
	if _, err := s.ApproveByController(ctx, Actor{ID: "ctrl-1", Role: "controller"}, id, ""); err != nil {
		t.Fatal(err)
	}
	recordChecks(t, l, id, validation.RoleAuthorizingOfficer, "ao-1", officerChecks(true))
	if _, err := s.Authorize(ctx, Actor{ID: "ao-1", Role: "authorizing_officer"}, id, 125000, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FinalizeByAccountant(ctx, Actor{ID: "acct-1", Role: "accountant"}, id, ""); err != nil {
		t.Fatal(err)
	}
}

func TestHistoryRecordsEveryTransition(t *testing.T) {
	s, l, _ := newTestService(t)
	d := mustCreate(t, s, "D-2025-007")
	advanceToDefinitivelyApproved(t, s, l, d.ID)

	entries, err := s.History(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []dossier.Status{
		dossier.StatusPending,
		dossier.StatusControllerApproved,
		dossier.StatusAuthorizingOfficerApproved,
		dossier.StatusDefinitivelyApproved,
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(entries))
	}
	for i, to := range want {
		if entries[i].To != to {
			t.Fatalf("entry %d: expected to=%s, got %s", i, to, entries[i].To)
		}
	}
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	s, l, _ := newTestService(t)
	ctx := context.Background()
	d := mustCreate(t, s, "D-2025-008")
	if _, err := s.Submit(ctx, Actor{ID: "clerk-1", Role: "clerk"}, d.ID); err != nil {
		t.Fatal(err)
	}
	recordChecks(t, l, d.ID, validation.RoleController, "ctrl-1", controllerChecks(true))

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ApproveByController(ctx, Actor{ID: "ctrl-1", Role: "controller"}, d.ID, "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	entries, err := s.History(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
}

// hookStore intercepts Update so a test can interleave writes between a
// gate read and the compare-and-set. The hook fires once.
type hookStore struct {
	*mem.Store
	mu           sync.Mutex
	beforeUpdate func()
}

func (h *hookStore) Update(ctx context.Context, d dossier.Dossier, expectedStatus dossier.Status, expectedPass int, entry *dossier.TransitionEntry) error {
	h.mu.Lock()
	hook := h.beforeUpdate
	h.beforeUpdate = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return h.Store.Update(ctx, d, expectedStatus, expectedPass, entry)
}

func TestApproveLosesToInterleavedResubmission(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	hooked := &hookStore{Store: store}
	ledger := validation.NewLedger(store, store, nil)
	s := NewService(hooked, ledger, nil)
	direct := NewService(store, ledger, nil)

	clerk := Actor{ID: "clerk-1", Role: "clerk"}
	ctrl := Actor{ID: "ctrl-1", Role: "controller"}
	d, err := s.Create(ctx, clerk, "D-2025-010", completeFields)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(ctx, clerk, d.ID); err != nil {
		t.Fatal(err)
	}
	recordChecks(t, ledger, d.ID, validation.RoleController, "ctrl-1", controllerChecks(true))

	// A reject and resubmit cycle lands after the approval's gate read but
	// before its write. The status is PENDING again, so a status-only guard
	// would let the approval commit against the superseded pass.
	hooked.beforeUpdate = func() {
		if _, err := direct.RejectByController(ctx, ctrl, d.ID, "stale figures", ""); err != nil {
			t.Errorf("interleaved reject: %v", err)
		}
		if _, err := direct.Resubmit(ctx, clerk, d.ID, dossier.Fields{}); err != nil {
			t.Errorf("interleaved resubmit: %v", err)
		}
	}

	_, err = s.ApproveByController(ctx, ctrl, d.ID, "")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	got, err := s.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dossier.StatusPending || got.ReviewPass != 2 {
		t.Fatalf("resubmission must survive the lost approval, got %+v", got)
	}

	// The fresh pass has no records yet, so a retried approval is gated.
	var incomplete *IncompleteValidationError
	if _, err := s.ApproveByController(ctx, ctrl, d.ID, ""); !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteValidationError on the fresh pass, got %v", err)
	}
}

// conflictedStore loses every write and then loses the row itself, so the
// recovery load after a conflict cannot supply a current status.
type conflictedStore struct {
	d     dossier.Dossier
	loads int
}

func (c *conflictedStore) Create(ctx context.Context, d dossier.Dossier) error { return nil }
func (c *conflictedStore) Load(ctx context.Context, id string) (dossier.Dossier, error) {
	c.loads++
	if c.loads > 1 {
		return dossier.Dossier{}, dossier.ErrNotFound
	}
	return c.d, nil
}
func (c *conflictedStore) Update(ctx context.Context, d dossier.Dossier, expectedStatus dossier.Status, expectedPass int, entry *dossier.TransitionEntry) error {
	return dossier.ErrConflict
}
func (c *conflictedStore) History(ctx context.Context, id string) ([]dossier.TransitionEntry, error) {
	return nil, nil
}

func TestConflictWithFailedReloadReportsSourceStatus(t *testing.T) {
	cs := &conflictedStore{d: dossier.Dossier{
		ID: "d1", Status: dossier.StatusAuthorizingOfficerApproved, ReviewPass: 1,
	}}
	s := NewService(cs, nil, nil)

	_, err := s.FinalizeByAccountant(context.Background(), Actor{ID: "acct-1", Role: "accountant"}, "d1", "")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.Current != dossier.StatusAuthorizingOfficerApproved {
		t.Fatalf("conflict without a reload must report the source status, got %s", invalid.Current)
	}
}

func TestCloseOnlyFromDefinitivelyApproved(t *testing.T) {
	s, l, _ := newTestService(t)
	ctx := context.Background()
	d := mustCreate(t, s, "D-2025-009")

	var invalid *InvalidTransitionError
	if _, err := s.Close(ctx, Actor{ID: "acct-1", Role: "accountant"}, d.ID); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	advanceToDefinitivelyApproved(t, s, l, d.ID)
	got, err := s.Close(ctx, Actor{ID: "acct-1", Role: "accountant"}, d.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got.Status != dossier.StatusClosed {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}
