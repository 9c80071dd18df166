package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"accessgate.io/internal/audit"
	"accessgate.io/internal/auth"
	"accessgate.io/internal/resource"
)

const testPasskey = "test-passkey"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	audit   *audit.InMemory
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	return newTestAPIWith(t, Options{Version: "test"})
}

func newTestAPIWith(t *testing.T, opts Options) *apiClient {
	t.Helper()

	svc, entries := newTestServices(t)
	api, err := New(svc, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		audit:   entries,
	}
}

func newTestServices(t *testing.T) (Services, *audit.InMemory) {
	t.Helper()

	users := auth.NewInMemoryUsers()
	entries := audit.NewInMemory()
	auditLog := audit.New(entries, users)
	tokens, err := auth.NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	authn, err := auth.NewAuthenticator(users, tokens, auditLog, testPasskey,
		auth.WithHasher(auth.BcryptHasher{Cost: bcrypt.MinCost}))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	dir, err := resource.NewDirectory(resource.NewInMemory(), users, auditLog)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	return Services{Auth: authn, Resources: dir, Audit: auditLog}, entries
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) register(name, email, role string) sessionResponse {
	c.t.Helper()
	body := map[string]any{"name": name, "email": email, "password": "hunter22"}
	if role == "admin" {
		body["role"] = "admin"
		body["adminPasskey"] = testPasskey
	}
	resp := c.post("/api/auth/register", body, "")
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: unexpected status %d", email, resp.StatusCode)
	}
	s := decode[sessionResponse](c.t, resp)
	if s.Token == "" {
		c.t.Fatalf("register %s: empty token", email)
	}
	return s
}

func (c *apiClient) actions() []string {
	c.t.Helper()
	entries, err := c.audit.List(context.Background())
	if err != nil {
		c.t.Fatalf("list audit: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	if resp.StatusCode != want {
		body := decode[map[string]any](t, resp)
		t.Fatalf("expected %d, got %d (%v)", want, resp.StatusCode, body)
	}
	return decode[map[string]any](t, resp)
}

func TestRegisterLoginMeFlow(t *testing.T) {
	api := newTestAPI(t)
	s := api.register("Ada", " Ada@Example.com", "")
	if s.Email != "ada@example.com" || s.Role != auth.RoleUser {
		t.Fatalf("unexpected session %+v", s)
	}

	resp := api.post("/api/auth/login", map[string]any{"email": "ada@example.com", "password": "hunter22"}, "")
	login := expectStatus(t, resp, http.StatusOK)
	token, _ := login["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}

	me := expectStatus(t, api.get("/api/auth/me", token), http.StatusOK)
	if me["email"] != "ada@example.com" || me["name"] != "Ada" {
		t.Fatalf("unexpected profile %v", me)
	}
	if _, ok := me["passwordHash"]; ok {
		t.Fatal("password hash leaked")
	}

	out := expectStatus(t, api.post("/api/auth/logout", nil, token), http.StatusOK)
	if out["message"] != "Logged out successfully" {
		t.Fatalf("unexpected logout body %v", out)
	}
	// Tokens stay valid after logout.
	expectStatus(t, api.get("/api/auth/me", token), http.StatusOK)

	got := api.actions()
	want := []string{"Fetched User Profile (/me)", "Logout", "Fetched User Profile (/me)", "User Login", "User Registered"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("audit trail = %v, want %v", got, want)
	}
}

func TestLoginFailures(t *testing.T) {
	api := newTestAPI(t)
	api.register("Root", "root@example.com", "admin")

	cases := map[string]struct {
		body    map[string]any
		status  int
		message string
	}{
		"unknown email":   {body: map[string]any{"email": "ghost@example.com", "password": "hunter22"}, status: http.StatusUnauthorized, message: "invalid email or password"},
		"missing fields":  {body: map[string]any{"email": "root@example.com"}, status: http.StatusBadRequest},
		"missing passkey": {body: map[string]any{"email": "root@example.com", "password": "hunter22"}, status: http.StatusForbidden},
		"wrong passkey":   {body: map[string]any{"email": "root@example.com", "password": "hunter22", "adminPasskey": "nope"}, status: http.StatusForbidden, message: "invalid admin passkey"},
		"wrong password":  {body: map[string]any{"email": "root@example.com", "password": "wrong-one", "adminPasskey": testPasskey}, status: http.StatusUnauthorized, message: "invalid email or password"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			body := expectStatus(t, api.post("/api/auth/login", tc.body, ""), tc.status)
			if _, ok := body["token"]; ok {
				t.Fatal("failed login returned a token")
			}
			if tc.message != "" && body["message"] != tc.message {
				t.Fatalf("message = %v want %q", body["message"], tc.message)
			}
			if body["request_id"] == "" || body["request_id"] == nil {
				t.Fatal("expected request_id in error body")
			}
		})
	}
}

func TestWrongPasskeyIsAudited(t *testing.T) {
	api := newTestAPI(t)
	api.register("Root", "root@example.com", "admin")
	expectStatus(t, api.post("/api/auth/login", map[string]any{
		"email": "root@example.com", "password": "hunter22", "adminPasskey": "guess",
	}, ""), http.StatusForbidden)

	got := api.actions()
	if len(got) == 0 || got[0] != auth.ActionFailedAdminPasskey {
		t.Fatalf("latest audit action = %v", got)
	}
}

func TestEnforcesAuthentication(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/api/auth/me", "/api/resources", "/api/admin/audit-logs", "/api/admin/resources"} {
		body := expectStatus(t, api.get(path, ""), http.StatusUnauthorized)
		if msg, _ := body["message"].(string); !strings.HasPrefix(msg, "not authorized") {
			t.Fatalf("%s: unexpected message %q", path, msg)
		}
	}
	expectStatus(t, api.get("/api/resources", "not-a-jwt"), http.StatusUnauthorized)
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	api := newTestAPI(t)
	user := api.register("Ada", "ada@example.com", "")

	checks := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/admin/audit-logs", nil},
		{http.MethodGet, "/api/admin/resources", nil},
		{http.MethodPost, "/api/admin/resources", map[string]any{"name": "Wiki", "description": "docs"}},
		{http.MethodPut, "/api/admin/resources/some-id", map[string]any{"name": "x"}},
		{http.MethodDelete, "/api/admin/resources/some-id", nil},
		{http.MethodGet, "/api/admin/users", nil},
		{http.MethodGet, "/api/users", nil},
		{http.MethodPost, "/api/admin/grant-access", map[string]any{"userId": user.ID, "resourceId": "r"}},
		{http.MethodPost, "/api/admin/revoke-access", map[string]any{"userId": user.ID, "resourceId": "r"}},
	}
	for _, c := range checks {
		body := expectStatus(t, api.do(c.method, c.path, c.body, user.Token), http.StatusForbidden)
		if body["message"] != "Admin access only" {
			t.Fatalf("%s %s: unexpected message %v", c.method, c.path, body["message"])
		}
	}
}

func TestResourceAccessFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("Root", "root@example.com", "admin")
	user := api.register("Ada", "ada@example.com", "")

	created := expectStatus(t, api.post("/api/admin/resources", map[string]any{
		"name": "Wiki", "description": "team docs", "url": "https://wiki.example.com",
	}, admin.Token), http.StatusCreated)
	resourceID, _ := created["id"].(string)
	if resourceID == "" {
		t.Fatalf("created resource has no id: %v", created)
	}

	listed := decode[[]map[string]any](t, api.get("/api/resources", user.Token))
	if len(listed) != 0 {
		t.Fatalf("user sees %v before grant", listed)
	}

	granted := expectStatus(t, api.post("/api/admin/grant-access", map[string]any{
		"userId": user.ID, "resourceId": resourceID,
	}, admin.Token), http.StatusOK)
	if granted["message"] != "Access granted to Ada for Wiki" {
		t.Fatalf("unexpected grant message %v", granted["message"])
	}

	expectStatus(t, api.post("/api/admin/grant-access", map[string]any{
		"userId": user.ID, "resourceId": resourceID,
	}, admin.Token), http.StatusConflict)
	expectStatus(t, api.post("/api/admin/grant-access", map[string]any{"userId": user.ID}, admin.Token), http.StatusBadRequest)

	listed = decode[[]map[string]any](t, api.get("/api/resources", user.Token))
	if len(listed) != 1 || listed[0]["name"] != "Wiki" {
		t.Fatalf("user sees %v after grant", listed)
	}
	if _, ok := listed[0]["usersWithAccess"]; ok {
		t.Fatal("public listing must not expose the access list")
	}

	views := decode[[]map[string]any](t, api.get("/api/admin/resources", admin.Token))
	if len(views) != 1 {
		t.Fatalf("admin sees %d resources", len(views))
	}
	grantees, _ := views[0]["usersWithAccess"].([]any)
	if len(grantees) != 1 {
		t.Fatalf("unexpected grantees %v", views[0]["usersWithAccess"])
	}

	expectStatus(t, api.do(http.MethodPut, "/api/admin/resources/"+resourceID, map[string]any{}, admin.Token), http.StatusBadRequest)
	expectStatus(t, api.do(http.MethodPut, "/api/admin/resources/not-an-id", map[string]any{"name": "x"}, admin.Token), http.StatusNotFound)

	updated := expectStatus(t, api.do(http.MethodPut, "/api/admin/resources/"+resourceID, map[string]any{"url": ""}, admin.Token), http.StatusOK)
	if _, ok := updated["url"]; ok || updated["description"] != "team docs" {
		t.Fatalf("url should be cleared and description kept: %v", updated)
	}

	expectStatus(t, api.post("/api/admin/revoke-access", map[string]any{
		"userId": user.ID, "resourceId": resourceID,
	}, admin.Token), http.StatusOK)
	listed = decode[[]map[string]any](t, api.get("/api/resources", user.Token))
	if len(listed) != 0 {
		t.Fatalf("user sees %v after revoke", listed)
	}

	expectStatus(t, api.do(http.MethodDelete, "/api/admin/resources/"+resourceID, nil, admin.Token), http.StatusOK)
	expectStatus(t, api.do(http.MethodDelete, "/api/admin/resources/"+resourceID, nil, admin.Token), http.StatusNotFound)
}

func TestAuditLogsGroupedByDay(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("Root", "root@example.com", "admin")
	api.post("/api/auth/login", map[string]any{"email": "nobody@example.com", "password": "hunter22"}, "").Body.Close()

	resp := api.get("/api/admin/audit-logs", admin.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Total-Count"); got != "2" {
		t.Fatalf("X-Total-Count = %q, want 2", got)
	}
	grouped := decode[map[string][]map[string]any](t, resp)
	if len(grouped) != 1 {
		t.Fatalf("expected one day, got %v", grouped)
	}
	for _, entries := range grouped {
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0]["action"] != auth.ActionFailedUnknownEmail || entries[0]["user"] != nil {
			t.Fatalf("newest entry should be the unattributed failure: %v", entries[0])
		}
		actor, _ := entries[1]["user"].(map[string]any)
		if actor["email"] != "root@example.com" || actor["role"] != "admin" {
			t.Fatalf("registration entry missing populated actor: %v", entries[1])
		}
	}
}

func TestActivityEndpoint(t *testing.T) {
	api := newTestAPI(t)
	user := api.register("Ada", "ada@example.com", "")

	expectStatus(t, api.post("/api/auth/activity", map[string]any{"action": "Opened Wiki", "success": false}, user.Token), http.StatusCreated)
	expectStatus(t, api.post("/api/auth/activity", map[string]any{"action": " "}, user.Token), http.StatusBadRequest)

	entries, _ := api.audit.List(context.Background())
	if entries[0].Action != "Opened Wiki" || entries[0].Success || entries[0].ActorID != user.ID {
		t.Fatalf("unexpected activity entry %+v", entries[0])
	}
	if entries[0].SourceAddr != "127.0.0.1" {
		t.Fatalf("source address = %q", entries[0].SourceAddr)
	}
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)
	health := expectStatus(t, api.get("/healthz", ""), http.StatusOK)
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health %v", health)
	}
	expectStatus(t, api.get("/readyz", ""), http.StatusOK)

	down := newTestAPIWith(t, Options{Ready: ReadyProbe{DB: failingPinger{}}})
	expectStatus(t, down.get("/readyz", ""), http.StatusServiceUnavailable)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("Root", "root@example.com", "admin")

	cases := map[string]struct {
		method  string
		path    string
		status  int
		message string
	}{
		"root unknown":      {http.MethodGet, "/nope", http.StatusNotFound, "route not found"},
		"api unknown":       {http.MethodGet, "/api/nope", http.StatusNotFound, "route not found"},
		"admin unknown":     {http.MethodGet, "/api/admin/nope", http.StatusNotFound, "route not found"},
		"auth wrong method": {http.MethodGet, "/api/auth/login", http.StatusMethodNotAllowed, "method not allowed"},
		"api wrong method":  {http.MethodPost, "/api/resources", http.StatusMethodNotAllowed, "method not allowed"},
		"admin wrong verb":  {http.MethodGet, "/api/admin/grant-access", http.StatusMethodNotAllowed, "method not allowed"},
		"admin patch":       {http.MethodPatch, "/api/admin/resources/some-id", http.StatusMethodNotAllowed, "method not allowed"},
		"health wrong verb": {http.MethodPost, "/healthz", http.StatusMethodNotAllowed, "method not allowed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			body := expectStatus(t, api.do(tc.method, tc.path, nil, admin.Token), tc.status)
			if body["message"] != tc.message {
				t.Fatalf("message = %v, want %q", body["message"], tc.message)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	api := newTestAPI(t)
	req, _ := http.NewRequest(http.MethodPost, api.baseURL+"/api/auth/register", strings.NewReader("{not json"))
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	expectStatus(t, resp, http.StatusBadRequest)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }
