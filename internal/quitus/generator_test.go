package quitus_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quitus.org/internal/dossier"
	"quitus.org/internal/quitus"
	"quitus.org/internal/store/mem"
	"quitus.org/internal/validation"
	"quitus.org/internal/workflow"
)

type fixture struct {
	store     *mem.Store
	ledger    *validation.Ledger
	workflow  *workflow.Service
	generator *quitus.Generator
	verifier  *quitus.Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := mem.New()
	ledger := validation.NewLedger(store, store, nil)
	return &fixture{
		store:     store,
		ledger:    ledger,
		workflow:  workflow.NewService(store, ledger, nil),
		generator: quitus.NewGenerator(store, ledger, store, nil),
		verifier:  quitus.NewVerifier(store),
	}
}

func (f *fixture) approvedDossier(t *testing.T, caseNumber string) dossier.Dossier {
	t.Helper()
	ctx := context.Background()
	d, err := f.workflow.Create(ctx, workflow.Actor{ID: "clerk-1", Role: "clerk"}, caseNumber, dossier.Fields{
		Beneficiary:       "ACME Supplies",
		OperationPurpose:  "Office equipment",
		AccountingPostRef: "AP-2025-17",
		DocumentNatureRef: "INVOICE",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.workflow.Submit(ctx, workflow.Actor{ID: "clerk-1", Role: "clerk"}, d.ID); err != nil {
		t.Fatal(err)
	}
	for _, check := range []string{"fc.appropriation", "fc.commitment", "ot.nature", "ot.justification"} {
		if _, err := f.ledger.RecordCheck(ctx, d.ID, validation.RoleController, check, true, "", "ctrl-1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.workflow.ApproveByController(ctx, workflow.Actor{ID: "ctrl-1", Role: "controller"}, d.ID, ""); err != nil {
		t.Fatal(err)
	}
	for _, check := range []string{"ao.service_rendered", "ao.amount"} {
		if _, err := f.ledger.RecordCheck(ctx, d.ID, validation.RoleAuthorizingOfficer, check, true, "", "ao-1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.workflow.Authorize(ctx, workflow.Actor{ID: "ao-1", Role: "authorizing_officer"}, d.ID, 125000, ""); err != nil {
		t.Fatal(err)
	}
	final, err := f.workflow.FinalizeByAccountant(ctx, workflow.Actor{ID: "acct-1", Role: "accountant"}, d.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	return final
}

func TestGenerateHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.approvedDossier(t, "D-2025-001")

	cert, created, err := f.generator.Generate(ctx, "acct-1", d.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !created {
		t.Fatal("expected first generation to create")
	}
	if cert.CertificateNumber != "Q-D-2025-001-1" {
		t.Fatalf("unexpected certificate number: %s", cert.CertificateNumber)
	}
	if quitus.Digest(cert.SnapshotBytes) != cert.IntegrityHash {
		t.Fatal("stored hash does not cover the stored snapshot")
	}
	if quitus.DeriveToken(cert.CertificateNumber, cert.IntegrityHash) != cert.VerificationToken {
		t.Fatal("stored token does not derive from number and hash")
	}

	// Issuance closes the dossier and stamps the number in one step.
	closed, err := f.workflow.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != dossier.StatusClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}
	if closed.CertificateNumber != cert.CertificateNumber {
		t.Fatalf("certificate number not stamped: %+v", closed)
	}
	history, err := f.workflow.History(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	last := history[len(history)-1]
	if last.From != dossier.StatusDefinitivelyApproved || last.To != dossier.StatusClosed {
		t.Fatalf("missing close history entry: %+v", last)
	}
}

func TestGenerateNotEligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.workflow.Create(ctx, workflow.Actor{ID: "clerk-1", Role: "clerk"}, "D-2025-002", dossier.Fields{
		Beneficiary:       "ACME",
		OperationPurpose:  "supplies",
		AccountingPostRef: "AP-1",
		DocumentNatureRef: "INVOICE",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.generator.Generate(ctx, "acct-1", d.ID); !errors.Is(err, quitus.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible from DRAFT, got %v", err)
	}
	if _, _, err := f.generator.Generate(ctx, "acct-1", "missing"); !errors.Is(err, dossier.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.approvedDossier(t, "D-2025-003")

	first, created, err := f.generator.Generate(ctx, "acct-1", d.ID)
	if err != nil || !created {
		t.Fatalf("first generation: created=%v err=%v", created, err)
	}
	second, created, err := f.generator.Generate(ctx, "acct-1", d.ID)
	if err != nil {
		t.Fatalf("second generation: %v", err)
	}
	if created {
		t.Fatal("second generation must not create")
	}
	if second.CertificateNumber != first.CertificateNumber || second.IntegrityHash != first.IntegrityHash {
		t.Fatalf("re-issuance changed the certificate: %+v vs %+v", first, second)
	}
}

func TestGenerateConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.approvedDossier(t, "D-2025-004")

	const n = 10
	var wg sync.WaitGroup
	numbers := make([]string, n)
	createds := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cert, created, err := f.generator.Generate(ctx, "acct-1", d.ID)
			if err != nil {
				t.Errorf("Generate: %v", err)
				return
			}
			numbers[i] = cert.CertificateNumber
			createds[i] = created
		}(i)
	}
	wg.Wait()

	creations := 0
	for i := 0; i < n; i++ {
		if createds[i] {
			creations++
		}
		if numbers[i] != numbers[0] {
			t.Fatalf("divergent certificate numbers: %v", numbers)
		}
	}
	if creations != 1 {
		t.Fatalf("expected exactly one creation, got %d", creations)
	}
}

func TestVerifyOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.approvedDossier(t, "D-2025-005")
	cert, _, err := f.generator.Generate(ctx, "acct-1", d.ID)
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.verifier.Verify(ctx, cert.CertificateNumber, cert.VerificationToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.CertificateNumber != cert.CertificateNumber {
		t.Fatalf("unexpected certificate: %+v", got)
	}

	if _, err := f.verifier.Verify(ctx, cert.CertificateNumber, "deadbeefdeadbeefdeadbeefdeadbeef"); !errors.Is(err, quitus.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.verifier.Verify(ctx, "Q-UNKNOWN-1", cert.VerificationToken); !errors.Is(err, quitus.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Flip one snapshot byte in storage: tampering wins over the token check.
	if !f.store.TamperSnapshot(cert.CertificateNumber) {
		t.Fatal("tamper hook failed")
	}
	if _, err := f.verifier.Verify(ctx, cert.CertificateNumber, cert.VerificationToken); !errors.Is(err, quitus.ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
}
