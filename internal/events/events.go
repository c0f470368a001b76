package events

import (
	"context"
	"sync"
	"time"
)

// Kind names a domain event emitted after a successful commit.
type Kind string

const (
	KindSubmitted          Kind = "dossier.submitted"
	KindControllerApproved Kind = "dossier.controller_approved"
	KindControllerRejected Kind = "dossier.controller_rejected"
	KindResubmitted        Kind = "dossier.resubmitted"
	KindAuthorized         Kind = "dossier.authorized"
	KindFinalized          Kind = "dossier.finalized"
	KindClosed             Kind = "dossier.closed"
	KindCertificateIssued  Kind = "certificate.issued"
)

// Event describes one committed pipeline step. Consumers (notifier,
// archiver) run out-of-band and must never block or roll back the core.
type Event struct {
	Kind              Kind      `json:"kind"`
	DossierID         string    `json:"dossier_id"`
	CaseNumber        string    `json:"case_number"`
	From              string    `json:"from,omitempty"`
	To                string    `json:"to,omitempty"`
	ActorID           string    `json:"actor_id,omitempty"`
	CertificateNumber string    `json:"certificate_number,omitempty"`
	SnapshotBytes     []byte    `json:"-"` // set on certificate.issued for the archiver
	Timestamp         time.Time `json:"timestamp"`
}

// Stream fan-outs committed events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
