// Package notify hosts the out-of-band collaborators fed by the event
// stream: stakeholder notification and cold-storage archival. Both are
// best-effort; failures are logged, never retried forever, and never roll
// back a committed transition.
package notify

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"quitus.org/internal/events"
	"quitus.org/internal/obs"
)

// Notifier delivers a stakeholder notification. The core never consumes its
// return value; implementations log their own failures.
type Notifier interface {
	Notify(ctx context.Context, evt events.Event) error
}

// Archiver copies certificate snapshot bytes to cold storage.
type Archiver interface {
	Archive(ctx context.Context, certificateNumber string, snapshot []byte) error
}

// LogNotifier writes notifications as structured log lines. Stands in for
// the external mail/push gateway.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, evt events.Event) error {
	obs.LogRequest(map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"type":        "notification",
		"event":       string(evt.Kind),
		"dossier_id":  evt.DossierID,
		"case_number": evt.CaseNumber,
	})
	return nil
}

// DirArchiver writes snapshots to a directory, one file per certificate.
type DirArchiver struct {
	Dir string
}

func (a DirArchiver) Archive(_ context.Context, certificateNumber string, snapshot []byte) error {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(a.Dir, certificateNumber+".json")
	return os.WriteFile(path, snapshot, 0o644)
}

// Dispatcher subscribes to the event stream and fans events out to the
// notifier and, for certificate issuance, the archiver. Each delivery runs
// under a short timeout so a stuck collaborator cannot back up the stream.
type Dispatcher struct {
	Notifier Notifier
	Archiver Archiver
	Timeout  time.Duration
}

// Run consumes events until ctx ends. Intended to run in its own goroutine.
func (d Dispatcher) Run(ctx context.Context, stream *events.Stream) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for evt := range stream.Subscribe(ctx) {
		evtCtx, cancel := context.WithTimeout(context.Background(), timeout)
		if d.Notifier != nil {
			if err := d.Notifier.Notify(evtCtx, evt); err != nil {
				obs.LogRequest(map[string]any{
					"type": "notify_error", "event": string(evt.Kind), "error": err.Error(),
				})
			}
		}
		if d.Archiver != nil && evt.Kind == events.KindCertificateIssued && len(evt.SnapshotBytes) > 0 {
			if err := d.Archiver.Archive(evtCtx, evt.CertificateNumber, evt.SnapshotBytes); err != nil {
				obs.LogRequest(map[string]any{
					"type": "archive_error", "certificate": evt.CertificateNumber, "error": err.Error(),
				})
			}
		}
		cancel()
	}
}
