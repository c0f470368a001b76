package httpapi

import (
	"net/http"
	"strings"

	"quitus.org/internal/auth"
	"quitus.org/internal/validation"
)

type recordCheckRequest struct {
	CheckID string `json:"check_id"`
	Passed  *bool  `json:"passed"`
	Comment string `json:"comment"`
}

// handleChecks covers POST /v1/dossiers/{id}/checks. The acting reviewer's
// role decides which checklist the record lands on.
func (a *API) handleChecks(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	role, reviewerRole, err := reviewerFromContext(r)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	actor, err := actorWithRole(r.Context(), role)
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	var req recordCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Passed == nil {
		writeError(w, r, http.StatusBadRequest, "passed is required")
		return
	}

	rec, err := a.ledger.RecordCheck(r.Context(), id, reviewerRole, req.CheckID, *req.Passed, req.Comment, actor.ID)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "validation.record", "dossier", id, map[string]string{
		"check_id": rec.CheckID,
		"role":     string(rec.Role),
		"passed":   boolString(rec.Passed),
	})
	writeJSON(w, http.StatusCreated, rec)
}

// getSynthesis covers GET /v1/dossiers/{id}/synthesis?role=...&family=...
func (a *API) getSynthesis(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	role := validation.Role(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("role"))))
	if !role.Valid() {
		writeError(w, r, http.StatusBadRequest, "role must be CONTROLLER or AUTHORIZING_OFFICER")
		return
	}
	family := validation.Family(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("family"))))

	var (
		syn validation.Synthesis
		err error
	)
	if family != "" {
		syn, err = a.ledger.SynthesizeFamily(r.Context(), id, role, family)
	} else {
		syn, err = a.ledger.Synthesize(r.Context(), id, role)
	}
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syn)
}

// handleCheckCatalog covers GET /v1/checks?role=... so review UIs can render
// the checklist.
func (a *API) handleCheckCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	roleParam := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("role")))
	catalog := a.ledger.Catalog()

	var defs []validation.CheckDefinition
	if roleParam == "" {
		defs = append(catalog.ForRole(validation.RoleController), catalog.ForRole(validation.RoleAuthorizingOfficer)...)
	} else {
		role := validation.Role(roleParam)
		if !role.Valid() {
			writeError(w, r, http.StatusBadRequest, "role must be CONTROLLER or AUTHORIZING_OFFICER")
			return
		}
		defs = catalog.ForRole(role)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": defs})
}

// reviewerFromContext picks the reviewer role for a check record from the
// authenticated actor's roles. An actor holding both reviewer roles must
// disambiguate via the ?role= query parameter.
func reviewerFromContext(r *http.Request) (string, validation.Role, error) {
	ctx := r.Context()
	isController := auth.HasRole(ctx, auth.RoleController)
	isOfficer := auth.HasRole(ctx, auth.RoleAuthorizingOfficer)

	switch param := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("role"))); {
	case param == string(validation.RoleController):
		isOfficer = false
	case param == string(validation.RoleAuthorizingOfficer):
		isController = false
	}

	switch {
	case isController && isOfficer:
		return "", "", errRoleAmbiguous
	case isController:
		return auth.RoleController, validation.RoleController, nil
	case isOfficer:
		return auth.RoleAuthorizingOfficer, validation.RoleAuthorizingOfficer, nil
	default:
		return "", "", errReviewerRequired
	}
}

var (
	errRoleAmbiguous    = errorString("role query parameter required for actors holding both reviewer roles")
	errReviewerRequired = errorString("reviewer role required")
)

type errorString string

func (e errorString) Error() string { return string(e) }

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
