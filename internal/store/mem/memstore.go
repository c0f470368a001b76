// Package mem provides an in-process implementation of the dossier,
// validation and certificate stores with the same transactional semantics as
// the Postgres store. Used in tests and local development.
package mem

import (
	"context"
	"fmt"
	"sync"

	"quitus.org/internal/dossier"
	"quitus.org/internal/quitus"
	"quitus.org/internal/validation"
)

// Store keeps everything behind one mutex so multi-entity operations
// (certificate insert + dossier close) stay atomic, mirroring the database
// transaction boundaries of the pg store.
type Store struct {
	mu       sync.RWMutex
	dossiers map[string]dossier.Dossier
	byCase   map[string]string // caseNumber -> dossier id
	history  map[string][]dossier.TransitionEntry
	records  map[string][]validation.Record // dossier id -> append-ordered records
	certs    map[string]quitus.Certificate  // certificateNumber -> cert
	byDoss   map[string]string              // dossier id -> certificateNumber
}

var (
	_ dossier.Store    = (*Store)(nil)
	_ validation.Store = (*Store)(nil)
	_ quitus.Store     = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		dossiers: make(map[string]dossier.Dossier),
		byCase:   make(map[string]string),
		history:  make(map[string][]dossier.TransitionEntry),
		records:  make(map[string][]validation.Record),
		certs:    make(map[string]quitus.Certificate),
		byDoss:   make(map[string]string),
	}
}

// --- dossier.Store ---

func (s *Store) Create(ctx context.Context, d dossier.Dossier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dossiers[d.ID]; ok {
		return dossier.ErrExists
	}
	if _, ok := s.byCase[d.CaseNumber]; ok {
		return dossier.ErrExists
	}
	s.dossiers[d.ID] = d
	s.byCase[d.CaseNumber] = d.ID
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (dossier.Dossier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dossiers[id]
	if !ok {
		return dossier.Dossier{}, dossier.ErrNotFound
	}
	return d, nil
}

func (s *Store) Update(ctx context.Context, d dossier.Dossier, expectedStatus dossier.Status, expectedPass int, entry *dossier.TransitionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(d, expectedStatus, expectedPass, entry)
}

func (s *Store) updateLocked(d dossier.Dossier, expectedStatus dossier.Status, expectedPass int, entry *dossier.TransitionEntry) error {
	stored, ok := s.dossiers[d.ID]
	if !ok {
		return dossier.ErrNotFound
	}
	if stored.Status != expectedStatus || stored.ReviewPass != expectedPass {
		return dossier.ErrConflict
	}
	s.dossiers[d.ID] = d
	if entry != nil {
		s.history[d.ID] = append(s.history[d.ID], *entry)
	}
	return nil
}

func (s *Store) History(ctx context.Context, id string) ([]dossier.TransitionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.dossiers[id]; !ok {
		return nil, dossier.ErrNotFound
	}
	entries := s.history[id]
	out := make([]dossier.TransitionEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// --- validation.Store ---

func (s *Store) Append(ctx context.Context, rec validation.Record, requiredStatus dossier.Status) (validation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dossiers[rec.DossierID]
	if !ok {
		return validation.Record{}, dossier.ErrNotFound
	}
	if d.Status != requiredStatus {
		return validation.Record{}, fmt.Errorf("%w: status %s", validation.ErrNotReviewable, d.Status)
	}
	rec.Pass = d.ReviewPass
	s.records[rec.DossierID] = append(s.records[rec.DossierID], rec)
	return rec, nil
}

func (s *Store) LatestPass(ctx context.Context, dossierID string, role validation.Role) ([]validation.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxPass := 0
	for _, rec := range s.records[dossierID] {
		if rec.Role == role && rec.Pass > maxPass {
			maxPass = rec.Pass
		}
	}
	if maxPass == 0 {
		return nil, 0, nil
	}
	var out []validation.Record
	for _, rec := range s.records[dossierID] {
		if rec.Role == role && rec.Pass == maxPass {
			out = append(out, rec)
		}
	}
	return out, maxPass, nil
}

// --- quitus.Store ---

func (s *Store) InsertIfAbsent(ctx context.Context, cert quitus.Certificate, closeEntry dossier.TransitionEntry) (quitus.Certificate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number, ok := s.byDoss[cert.DossierID]; ok {
		return s.certs[number], false, nil
	}

	d, ok := s.dossiers[cert.DossierID]
	if !ok {
		return quitus.Certificate{}, false, dossier.ErrNotFound
	}

	stored := cert
	stored.SnapshotBytes = append([]byte(nil), cert.SnapshotBytes...)
	s.certs[cert.CertificateNumber] = stored
	s.byDoss[cert.DossierID] = cert.CertificateNumber

	d.CertificateNumber = cert.CertificateNumber
	if d.Status == dossier.StatusDefinitivelyApproved {
		d.Status = dossier.StatusClosed
		d.UpdatedAt = closeEntry.At
		s.history[d.ID] = append(s.history[d.ID], closeEntry)
	}
	s.dossiers[d.ID] = d

	return stored, true, nil
}

func (s *Store) LoadByNumber(ctx context.Context, certificateNumber string) (quitus.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[certificateNumber]
	if !ok {
		return quitus.Certificate{}, quitus.ErrNotFound
	}
	out := cert
	out.SnapshotBytes = append([]byte(nil), cert.SnapshotBytes...)
	return out, nil
}

func (s *Store) LoadByDossier(ctx context.Context, dossierID string) (quitus.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	number, ok := s.byDoss[dossierID]
	if !ok {
		return quitus.Certificate{}, quitus.ErrNotFound
	}
	cert := s.certs[number]
	out := cert
	out.SnapshotBytes = append([]byte(nil), cert.SnapshotBytes...)
	return out, nil
}

// TamperSnapshot mutates one byte of a stored snapshot. Test hook for the
// verifier's tamper detection; never used by production code paths.
func (s *Store) TamperSnapshot(certificateNumber string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certificateNumber]
	if !ok || len(cert.SnapshotBytes) == 0 {
		return false
	}
	cert.SnapshotBytes[0] ^= 0x01
	s.certs[certificateNumber] = cert
	return true
}
