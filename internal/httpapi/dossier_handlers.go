package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"quitus.org/internal/auth"
	"quitus.org/internal/dossier"
	"quitus.org/internal/quitus"
	"quitus.org/internal/validation"
	"quitus.org/internal/workflow"
)

type createDossierRequest struct {
	CaseNumber        string `json:"case_number"`
	Beneficiary       string `json:"beneficiary"`
	OperationPurpose  string `json:"operation_purpose"`
	AccountingPostRef string `json:"accounting_post_ref"`
	DocumentNatureRef string `json:"document_nature_ref"`
}

type updateFieldsRequest struct {
	Beneficiary       string `json:"beneficiary"`
	OperationPurpose  string `json:"operation_purpose"`
	AccountingPostRef string `json:"accounting_post_ref"`
	DocumentNatureRef string `json:"document_nature_ref"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

type authorizeRequest struct {
	Amount  int64  `json:"amount"`
	Comment string `json:"comment"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

func (r updateFieldsRequest) fields() dossier.Fields {
	return dossier.Fields{
		Beneficiary:       r.Beneficiary,
		OperationPurpose:  r.OperationPurpose,
		AccountingPostRef: r.AccountingPostRef,
		DocumentNatureRef: r.DocumentNatureRef,
	}
}

func (a *API) handleDossiersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createDossier(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleDossierResource routes /v1/dossiers/{id}[/{action}].
func (a *API) handleDossierResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/dossiers/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getDossier(w, r, id)
		case http.MethodPut:
			a.updateDossier(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getHistory(w, r, id)
	case "submit":
		a.postTransition(w, r, id, auth.RoleClerk, func(actor workflow.Actor, _ string) (dossier.Dossier, error) {
			return a.workflow.Submit(r.Context(), actor, id)
		}, "dossier.submit")
	case "approve":
		a.postTransition(w, r, id, auth.RoleController, func(actor workflow.Actor, comment string) (dossier.Dossier, error) {
			return a.workflow.ApproveByController(r.Context(), actor, id, comment)
		}, "dossier.controller_approve")
	case "reject":
		a.rejectDossier(w, r, id)
	case "resubmit":
		a.resubmitDossier(w, r, id)
	case "authorize":
		a.authorizeDossier(w, r, id)
	case "finalize":
		a.postTransition(w, r, id, auth.RoleAccountant, func(actor workflow.Actor, comment string) (dossier.Dossier, error) {
			return a.workflow.FinalizeByAccountant(r.Context(), actor, id, comment)
		}, "dossier.finalize")
	case "checks":
		a.handleChecks(w, r, id)
	case "synthesis":
		a.getSynthesis(w, r, id)
	case "certificate":
		a.generateCertificate(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createDossier(w http.ResponseWriter, r *http.Request) {
	actor, err := actorWithRole(r.Context(), auth.RoleClerk)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var req createDossierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.workflow.Create(r.Context(), actor, req.CaseNumber, dossier.Fields{
		Beneficiary:       req.Beneficiary,
		OperationPurpose:  req.OperationPurpose,
		AccountingPostRef: req.AccountingPostRef,
		DocumentNatureRef: req.DocumentNatureRef,
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "dossier.create", "dossier", d.ID, map[string]string{
		"case_number": d.CaseNumber,
	})
	w.Header().Set("Location", "/v1/dossiers/"+d.ID)
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) getDossier(w http.ResponseWriter, r *http.Request, id string) {
	d, err := a.workflow.Get(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := a.workflow.History(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) updateDossier(w http.ResponseWriter, r *http.Request, id string) {
	actor, err := actorWithRole(r.Context(), auth.RoleClerk)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var req updateFieldsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.workflow.UpdateFields(r.Context(), actor, id, req.fields())
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "dossier.update_fields", "dossier", d.ID, nil)
	writeJSON(w, http.StatusOK, d)
}

// postTransition covers the transitions whose request body is an optional
// comment.
func (a *API) postTransition(w http.ResponseWriter, r *http.Request, id, role string, op func(workflow.Actor, string) (dossier.Dossier, error), auditEvent string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, err := actorWithRole(r.Context(), role)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var req commentRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	d, err := op(actor, req.Comment)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), auditEvent, "dossier", d.ID, map[string]string{
		"status": string(d.Status),
	})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) rejectDossier(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, err := actorWithRole(r.Context(), auth.RoleController)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.workflow.RejectByController(r.Context(), actor, id, req.Reason, req.Detail)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "dossier.controller_reject", "dossier", d.ID, map[string]string{
		"reason": req.Reason,
	})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) resubmitDossier(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, err := actorWithRole(r.Context(), auth.RoleClerk)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var req updateFieldsRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	d, err := a.workflow.Resubmit(r.Context(), actor, id, req.fields())
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "dossier.resubmit", "dossier", d.ID, map[string]string{
		"review_pass": strconv.Itoa(d.ReviewPass),
	})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) authorizeDossier(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, err := actorWithRole(r.Context(), auth.RoleAuthorizingOfficer)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.workflow.Authorize(r.Context(), actor, id, req.Amount, req.Comment)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "dossier.authorize", "dossier", d.ID, map[string]string{
		"amount": strconv.FormatInt(req.Amount, 10),
	})
	writeJSON(w, http.StatusOK, d)
}

// handleDomainError maps domain errors onto HTTP statuses. Gate and
// transition failures carry enough detail for the reviewer to act.
func (a *API) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidTransition *workflow.InvalidTransitionError
	var incomplete *workflow.IncompleteValidationError
	switch {
	case errors.As(err, &invalidTransition):
		writeError(w, r, http.StatusConflict, invalidTransition.Error())
	case errors.As(err, &incomplete):
		writeError(w, r, http.StatusUnprocessableEntity, incomplete.Error())
	case errors.Is(err, workflow.ErrInvalidInput),
		errors.Is(err, validation.ErrUnknownCheck),
		errors.Is(err, validation.ErrWrongRole):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrIncompleteDossier),
		errors.Is(err, workflow.ErrNotEditable),
		errors.Is(err, validation.ErrNotReviewable):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, dossier.ErrExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, quitus.ErrNotEligible):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, dossier.ErrNotFound), errors.Is(err, quitus.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrTransient):
		writeError(w, r, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
