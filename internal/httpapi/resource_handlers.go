package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"accessgate.io/internal/auth"
	"accessgate.io/internal/resource"
)

// totalCountHeader reports the number of audit entries across all days.
const totalCountHeader = "X-Total-Count"

type createResourceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// updateResourceRequest keeps pointers so an absent field differs from "".
type updateResourceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	URL         *string `json:"url"`
}

type accessRequest struct {
	UserID     string `json:"userId"`
	ResourceID string `json:"resourceId"`
}

type accessResponse struct {
	Message  string             `json:"message"`
	Resource resource.AdminView `json:"resource"`
}

func (a *API) handleListResources(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	items, err := a.svc.Resources.List(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	out := make([]resource.Listing, 0, len(items))
	for _, item := range items {
		out = append(out, item.Listing())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAdminResources(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	views, err := a.svc.Resources.ListForAdmin(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Mutating handlers decode the body only for admins. Non-admins reach the
// directory with an empty request so the denial is audited there.
func (a *API) handleCreateResource(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req createResourceRequest
	if id.IsAdmin() {
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
	}
	created, err := a.svc.Resources.Create(r.Context(), id, resource.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		URL:         req.URL,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdateResource(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req updateResourceRequest
	if id.IsAdmin() {
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
	}
	updated, err := a.svc.Resources.Update(r.Context(), id, mux.Vars(r)["id"], resource.Update{
		Name:        req.Name,
		Description: req.Description,
		URL:         req.URL,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteResource(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := a.svc.Resources.Delete(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		handleError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Resource deleted successfully")
}

func (a *API) handleGrantAccess(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req accessRequest
	if id.IsAdmin() {
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
	}
	change, err := a.svc.Resources.GrantAccess(r.Context(), id, req.UserID, req.ResourceID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		Message:  fmt.Sprintf("Access granted to %s for %s", change.User.Name, change.Resource.Name),
		Resource: change.Resource,
	})
}

func (a *API) handleRevokeAccess(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req accessRequest
	if id.IsAdmin() {
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
	}
	change, err := a.svc.Resources.RevokeAccess(r.Context(), id, req.UserID, req.ResourceID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		Message:  fmt.Sprintf("Access revoked from %s for %s", change.User.Name, change.Resource.Name),
		Resource: change.Resource,
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	grouped, err := a.svc.Audit.ListGroupedByDay(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set(totalCountHeader, strconv.Itoa(grouped.Count()))
	writeJSON(w, http.StatusOK, grouped)
}
