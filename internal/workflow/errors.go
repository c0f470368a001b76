package workflow

import (
	"errors"
	"fmt"
	"strings"

	"quitus.org/internal/dossier"
	"quitus.org/internal/validation"
)

var (
	// ErrTransient marks a store failure that survived one retry. The caller
	// may try again later; nothing was partially applied.
	ErrTransient = errors.New("workflow: store unavailable")

	// ErrIncompleteDossier means mandatory descriptive fields are missing at
	// submission.
	ErrIncompleteDossier = errors.New("workflow: mandatory descriptive fields missing")

	// ErrNotEditable means the dossier status no longer admits clerk edits.
	ErrNotEditable = errors.New("workflow: dossier is not editable in its current status")

	// ErrInvalidInput marks a malformed or missing argument rejected before
	// any store access.
	ErrInvalidInput = errors.New("workflow: invalid input")
)

// InvalidTransitionError reports an attempted move from a status that does
// not allow it. It names the documented edge and the status actually found.
type InvalidTransitionError struct {
	From    dossier.Status // documented source of the attempted edge
	To      dossier.Status
	Current dossier.Status // status found at the time of the attempt
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: dossier is %s", e.From, e.To, e.Current)
}

// IncompleteValidationError reports a gate failure, naming the synthesis
// that is missing or failing so the reviewer can act.
type IncompleteValidationError struct {
	Role      validation.Role
	Family    validation.Family
	Synthesis validation.Synthesis
}

func (e *IncompleteValidationError) Error() string {
	scope := string(e.Role)
	if e.Family != "" {
		scope += "/" + string(e.Family)
	}
	var parts []string
	if len(e.Synthesis.Missing) > 0 {
		parts = append(parts, "missing checks: "+strings.Join(e.Synthesis.Missing, ", "))
	}
	if len(e.Synthesis.Failed) > 0 {
		parts = append(parts, "failed checks: "+strings.Join(e.Synthesis.Failed, ", "))
	}
	if len(parts) == 0 {
		parts = append(parts, "verdict "+string(e.Synthesis.Verdict))
	}
	return fmt.Sprintf("validation gate not satisfied for %s (%s)", scope, strings.Join(parts, "; "))
}
