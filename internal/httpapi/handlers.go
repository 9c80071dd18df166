package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"accessgate.io/internal/audit"
	"accessgate.io/internal/auth"
	"accessgate.io/internal/obs"
	"accessgate.io/internal/resource"
)

const defaultMaxBodyBytes = 1 << 20

// Pinger is satisfied by the PostgreSQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness; a nil DB means in-memory mode, always ready.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Services are the domain components behind the HTTP surface.
type Services struct {
	Auth      *auth.Authenticator
	Resources *resource.Directory
	Audit     *audit.Log
}

// Options tune the transport.
type Options struct {
	Version        string
	Ready          ReadyProbe
	AllowedOrigins []string
	TrustProxy     bool
	MaxBodyBytes   int64
}

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	svc     Services
	opts    Options
	started time.Time
}

func New(svc Services, opts Options) (*API, error) {
	if svc.Auth == nil || svc.Resources == nil || svc.Audit == nil {
		return nil, errors.New("httpapi: auth, resources and audit services are required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	a := &API{
		router:  mux.NewRouter(),
		svc:     svc,
		opts:    opts,
		started: time.Now().UTC(),
	}
	a.routes()
	return a, nil
}

var (
	notFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found")
	})
	methodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
)

// subrouter carries the JSON fallbacks down; mux does not inherit them.
func subrouter(parent *mux.Router, prefix string) *mux.Router {
	sr := parent.PathPrefix(prefix).Subrouter()
	sr.NotFoundHandler = notFound
	sr.MethodNotAllowedHandler = methodNotAllowed
	return sr
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = methodNotAllowed

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := subrouter(r, "/api")
	api.Use(SourceAddr(a.opts.TrustProxy))

	authRoutes := subrouter(api, "/auth")
	authRoutes.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	authRoutes.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	authRoutes.Handle("/logout", a.authed(a.handleLogout)).Methods(http.MethodPost)
	authRoutes.Handle("/me", a.authed(a.handleMe)).Methods(http.MethodGet)
	authRoutes.Handle("/activity", a.authed(a.handleActivity)).Methods(http.MethodPost)

	api.Handle("/resources", a.authed(a.handleListResources)).Methods(http.MethodGet)
	api.Handle("/users", a.authed(a.handleListUsers)).Methods(http.MethodGet)

	admin := subrouter(api, "/admin")
	admin.Handle("/audit-logs", a.authed(a.handleAuditLogs)).Methods(http.MethodGet)
	admin.Handle("/resources", a.authed(a.handleAdminResources)).Methods(http.MethodGet)
	admin.Handle("/resources", a.authed(a.handleCreateResource)).Methods(http.MethodPost)
	admin.Handle("/resources/{id}", a.authed(a.handleUpdateResource)).Methods(http.MethodPut)
	admin.Handle("/resources/{id}", a.authed(a.handleDeleteResource)).Methods(http.MethodDelete)
	admin.Handle("/users", a.authed(a.handleListUsers)).Methods(http.MethodGet)
	admin.Handle("/grant-access", a.authed(a.handleGrantAccess)).Methods(http.MethodPost)
	admin.Handle("/revoke-access", a.authed(a.handleRevokeAccess)).Methods(http.MethodPost)
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = obs.Instrument(h)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "accessgate",
		"version": a.opts.Version,
		"uptime":  time.Since(a.started).Round(time.Second).String(),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.opts.Ready.Check(ctx); err != nil {
		obs.LogError("readiness check failed", err, map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"message": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

// handleError maps the auth error taxonomy onto status codes. Uncategorised
// errors are logged and reported as a bare 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, auth.ErrAuth):
		code = http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, auth.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, auth.ErrConflict):
		code = http.StatusConflict
	}
	msg := auth.Message(err)
	if code == http.StatusInternalServerError || msg == "" {
		obs.LogError("request failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		code, msg = http.StatusInternalServerError, "server error"
	}
	writeError(w, r, code, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return auth.E(auth.ErrValidation, "request body is required")
		case errors.As(err, &tooLarge):
			return auth.E(auth.ErrValidation, "request body too large")
		default:
			return auth.E(auth.ErrValidation, "malformed JSON body")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return auth.E(auth.ErrValidation, "unexpected data after JSON body")
	}
	return nil
}
