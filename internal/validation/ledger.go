package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"quitus.org/internal/dossier"
	"quitus.org/internal/ids"
)

// Ledger provides the append-only record API and the derived syntheses the
// approval gates consult. It never mutates dossier state.
type Ledger struct {
	store    Store
	dossiers dossier.Store
	catalog  *Catalog
	now      func() time.Time
}

// NewLedger wires a ledger over its stores.
func NewLedger(store Store, dossiers dossier.Store, catalog *Catalog) *Ledger {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Ledger{
		store:    store,
		dossiers: dossiers,
		catalog:  catalog,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Catalog exposes the check definitions in use.
func (l *Ledger) Catalog() *Catalog { return l.catalog }

// reviewableBy maps reviewer roles to the dossier status that admits their
// checks. An authorizing-officer check cannot be recorded before the
// controller has approved.
func reviewableBy(role Role) dossier.Status {
	switch role {
	case RoleController:
		return dossier.StatusPending
	case RoleAuthorizingOfficer:
		return dossier.StatusControllerApproved
	}
	return ""
}

// RecordCheck appends one check result for the acting reviewer. The write is
// rejected when the dossier's current status does not permit review by that
// role. Corrections are a fresh record in the same pass, not an edit.
func (l *Ledger) RecordCheck(ctx context.Context, dossierID string, role Role, checkID string, passed bool, comment, actorID string) (Record, error) {
	if !role.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrWrongRole, role)
	}
	def, ok := l.catalog.Lookup(strings.TrimSpace(checkID))
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownCheck, checkID)
	}
	if def.Role != role {
		return Record{}, fmt.Errorf("%w: %q belongs to %s", ErrWrongRole, checkID, def.Role)
	}

	rec := Record{
		ID:        ids.New(),
		DossierID: dossierID,
		Role:      role,
		CheckID:   def.ID,
		Passed:    passed,
		Comment:   strings.TrimSpace(comment),
		CheckedBy: actorID,
		CheckedAt: l.now(),
	}
	// The store checks the status and stamps the pass under its own row lock.
	// A pre-read here could see a pass a concurrent resubmission is bumping.
	return l.store.Append(ctx, rec, reviewableBy(role))
}

// Synthesize rolls up the dossier's current review pass for a (dossier,
// role) pair.
func (l *Ledger) Synthesize(ctx context.Context, dossierID string, role Role) (Synthesis, error) {
	return l.synthesize(ctx, dossierID, role, "")
}

// SynthesizeFamily rolls up the current pass narrowed to one check family.
// The controller gate reads the fund-control and operation-type families
// separately so failures can be named precisely.
func (l *Ledger) SynthesizeFamily(ctx context.Context, dossierID string, role Role, family Family) (Synthesis, error) {
	return l.synthesize(ctx, dossierID, role, family)
}

func (l *Ledger) synthesize(ctx context.Context, dossierID string, role Role, family Family) (Synthesis, error) {
	d, err := l.dossiers.Load(ctx, dossierID)
	if err != nil {
		return Synthesis{}, err
	}
	records, pass, err := l.store.LatestPass(ctx, dossierID, role)
	if err != nil {
		return Synthesis{}, err
	}
	// Records from a superseded round never roll up. A resubmission opens a
	// fresh pass in which every mandatory check starts out missing.
	if pass != d.ReviewPass {
		records = nil
	}

	syn := Synthesis{
		DossierID: dossierID,
		Role:      role,
		Family:    family,
		Pass:      d.ReviewPass,
	}

	// The store returns records in append order, so within the pass the most
	// recent record per check wins: a correction supersedes the earlier
	// result without deleting it.
	latest := make(map[string]Record, len(records))
	for _, rec := range records {
		if family != "" {
			def, ok := l.catalog.Lookup(rec.CheckID)
			if !ok || def.Family != family {
				continue
			}
		}
		latest[rec.CheckID] = rec
	}

	for id, rec := range latest {
		syn.Total++
		if rec.Passed {
			syn.PassedCount++
		} else {
			syn.FailedCount++
			syn.Failed = append(syn.Failed, id)
		}
	}
	for _, id := range l.catalog.Mandatory(role, family) {
		if _, ok := latest[id]; !ok {
			syn.Missing = append(syn.Missing, id)
		}
	}
	sort.Strings(syn.Failed)
	sort.Strings(syn.Missing)

	switch {
	case syn.FailedCount > 0:
		syn.Verdict = VerdictFailed
	case len(syn.Missing) > 0:
		syn.Verdict = VerdictIncomplete
	default:
		syn.Verdict = VerdictPassed
	}
	return syn, nil
}
