package httpapi

import (
	"net/http"

	"accessgate.io/internal/audit"
	"accessgate.io/internal/auth"
)

type registerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	AdminPasskey string `json:"adminPasskey"`
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	AdminPasskey string `json:"adminPasskey"`
}

type activityRequest struct {
	Action  string `json:"action"`
	Success *bool  `json:"success"`
}

type sessionResponse struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
	Token string    `json:"token"`
}

func newSessionResponse(s auth.Session) sessionResponse {
	return sessionResponse{
		ID:    s.User.ID,
		Name:  s.User.Name,
		Email: s.User.Email,
		Role:  s.User.Role,
		Token: s.Token,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	session, err := a.svc.Auth.Register(r.Context(), auth.RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		Role:         req.Role,
		AdminPasskey: req.AdminPasskey,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.session.issued", map[string]any{
		"user_id":    session.User.ID,
		"role":       string(session.User.Role),
		"expires_at": session.ExpiresAt,
	})
	writeJSON(w, http.StatusCreated, newSessionResponse(session))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	session, err := a.svc.Auth.Login(r.Context(), auth.LoginInput{
		Email:        req.Email,
		Password:     req.Password,
		AdminPasskey: req.AdminPasskey,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.session.issued", map[string]any{
		"user_id":    session.User.ID,
		"role":       string(session.User.Role),
		"expires_at": session.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	a.svc.Auth.Logout(r.Context(), id)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	user, err := a.svc.Auth.Me(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Summary())
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	success := true
	if req.Success != nil {
		success = *req.Success
	}
	if err := a.svc.Auth.RecordActivity(r.Context(), id, req.Action, success); err != nil {
		handleError(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Activity logged successfully")
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	users, err := a.svc.Auth.ListUsers(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	out := make([]auth.Summary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}
