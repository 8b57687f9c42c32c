package httpapi

import (
	"net/http"
	"strings"

	"equicert.org/internal/roles"
)

type roleChangeRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

func (a *API) handleRoleGrant(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, "role.grant", a.engine.GrantRole)
}

func (a *API) handleRoleRevoke(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, "role.revoke", a.engine.RevokeRole)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, event string, fn func(role roles.Role, account, actingAs string) error) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actingAs, ok := caller(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req roleChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := roles.Parse(req.Role)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if err := fn(role, req.Account, actingAs); err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.audit(r.Context(), event, "role", string(role), map[string]string{
		"account": req.Account,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoleHas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	role, err := roles.Parse(r.URL.Query().Get("role"))
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		writeError(w, r, http.StatusBadRequest, "account query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"account": account,
		"held":    a.dir.HasRole(role, account),
	})
}
