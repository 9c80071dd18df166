package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"accessgate.io/internal/ids"
	"accessgate.io/internal/obs"
)

const minPasswordLength = 6

// Audit actions recorded by the Authenticator.
const (
	ActionUserRegistered          = "User Registered"
	ActionAdminRegistered         = "Admin Registered"
	ActionFailedAdminRegistration = "Failed Admin Registration - Invalid Passkey"
	ActionFailedAdminRegNoPasskey = "Failed Admin Registration - Missing Passkey"
	ActionUserLogin               = "User Login"
	ActionAdminLogin              = "Admin Login"
	ActionFailedUnknownEmail      = "Failed Login - Unknown Email"
	ActionFailedWrongPassword     = "Failed Login - Wrong Password"
	ActionFailedAdminNoPasskey    = "Failed Admin Login - Missing Passkey"
	ActionFailedAdminPasskey      = "Failed Admin Login - Invalid Passkey"
	ActionLogout                  = "Logout"
	ActionFetchedProfile          = "Fetched User Profile (/me)"
)

// Authenticator verifies credentials and the shared admin passkey and issues session tokens.
type Authenticator struct {
	users   UserStore
	tokens  *TokenIssuer
	audit   Recorder
	hasher  Hasher
	passkey string
	now     func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHasher replaces the default bcrypt hasher.
func WithHasher(h Hasher) Option {
	return func(a *Authenticator) {
		if h != nil {
			a.hasher = h
		}
	}
}

// WithNow overrides the clock used for account timestamps.
func WithNow(fn func() time.Time) Option {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthenticator wires the account store, token issuer and audit recorder.
// passkey is the admin second factor; when blank every admin registration and
// login is refused.
func NewAuthenticator(users UserStore, tokens *TokenIssuer, rec Recorder, passkey string, opts ...Option) (*Authenticator, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	if rec == nil {
		return nil, errors.New("auth: audit recorder is required")
	}
	a := &Authenticator{
		users:   users,
		tokens:  tokens,
		audit:   rec,
		hasher:  BcryptHasher{},
		passkey: passkey,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Name         string
	Email        string
	Password     string
	Role         string
	AdminPasskey string
}

// LoginInput is the login request.
type LoginInput struct {
	Email        string
	Password     string
	AdminPasskey string
}

// Session is an authenticated user together with a freshly issued token.
type Session struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

// Register creates an account and signs the caller in. The password is
// trimmed before the length check, matching how Login compares it.
func (a *Authenticator) Register(ctx context.Context, in RegisterInput) (Session, error) {
	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	password := strings.TrimSpace(in.Password)
	if name == "" || email == "" || password == "" {
		return Session{}, E(ErrValidation, "please fill all fields")
	}
	if !strings.Contains(email, "@") {
		return Session{}, E(ErrValidation, "valid email is required")
	}
	if len(password) < minPasswordLength {
		return Session{}, E(ErrValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return Session{}, err
	}
	if role == RoleAdmin {
		if err := a.checkPasskey(in.AdminPasskey, "admin passkey is required to register as admin"); err != nil {
			action := ActionFailedAdminRegistration
			if strings.TrimSpace(in.AdminPasskey) == "" {
				action = ActionFailedAdminRegNoPasskey
			}
			a.audit.Record(ctx, "", action, false)
			obs.ObserveAuth("register", "forbidden")
			return Session{}, err
		}
	}

	if _, err := a.users.FindByEmail(ctx, email); err == nil {
		obs.ObserveAuth("register", "conflict")
		return Session{}, E(ErrConflict, "user already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	user := User{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.users.Create(ctx, &user); err != nil {
		if errors.Is(err, ErrConflict) {
			obs.ObserveAuth("register", "conflict")
			return Session{}, E(ErrConflict, "user already exists")
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	action := ActionUserRegistered
	if role == RoleAdmin {
		action = ActionAdminRegistered
	}
	a.audit.Record(ctx, user.ID, action, true)
	obs.ObserveAuth("register", "success")
	return a.session(user)
}

// Login verifies the credentials, and for admins the passkey, and issues a token.
// The passkey is checked before the password.
func (a *Authenticator) Login(ctx context.Context, in LoginInput) (Session, error) {
	email := NormalizeEmail(in.Email)
	password := strings.TrimSpace(in.Password)
	if email == "" || password == "" {
		return Session{}, E(ErrValidation, "please provide email and password")
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.audit.Record(ctx, "", ActionFailedUnknownEmail, false)
			obs.ObserveAuth("login", "unknown_email")
			return Session{}, errInvalidCredentials
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	if user.Role == RoleAdmin {
		if err := a.checkPasskey(in.AdminPasskey, "admin passkey is required for admin login"); err != nil {
			action := ActionFailedAdminPasskey
			if strings.TrimSpace(in.AdminPasskey) == "" {
				action = ActionFailedAdminNoPasskey
			}
			a.audit.Record(ctx, user.ID, action, false)
			obs.ObserveAuth("login", "forbidden")
			return Session{}, err
		}
	}

	if err := a.hasher.Verify(user.PasswordHash, password); err != nil {
		a.audit.Record(ctx, user.ID, ActionFailedWrongPassword, false)
		obs.ObserveAuth("login", "wrong_password")
		return Session{}, errInvalidCredentials
	}

	session, err := a.session(user)
	if err != nil {
		return Session{}, err
	}
	action := ActionUserLogin
	if user.Role == RoleAdmin {
		action = ActionAdminLogin
	}
	a.audit.Record(ctx, user.ID, action, true)
	obs.ObserveAuth("login", "success")
	return session, nil
}

// Logout only records the event. Issued tokens stay valid until they expire.
func (a *Authenticator) Logout(ctx context.Context, id Identity) {
	a.audit.Record(ctx, id.ID, ActionLogout, true)
}

// ResolveToken decodes a bearer token into the caller identity. It performs no I/O.
func (a *Authenticator) ResolveToken(token string) (Identity, error) {
	return a.tokens.Resolve(token)
}

// Me returns the stored account behind id.
func (a *Authenticator) Me(ctx context.Context, id Identity) (User, error) {
	user, err := a.users.Find(ctx, id.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, E(ErrNotFound, "user not found")
		}
		return User{}, fmt.Errorf("find user: %w", err)
	}
	a.audit.Record(ctx, id.ID, ActionFetchedProfile, true)
	return user, nil
}

// RecordActivity appends a client-reported action to the caller's trail.
func (a *Authenticator) RecordActivity(ctx context.Context, id Identity, action string, success bool) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return E(ErrValidation, "action is required")
	}
	a.audit.Record(ctx, id.ID, action, success)
	return nil
}

// ListUsers returns every account sorted by name. Admin only.
func (a *Authenticator) ListUsers(ctx context.Context, id Identity) ([]User, error) {
	if err := RequireRole(id, RoleAdmin); err != nil {
		return nil, err
	}
	users, err := a.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (a *Authenticator) session(user User) (Session, error) {
	token, exp, err := a.tokens.Issue(user.Identity())
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func (a *Authenticator) checkPasskey(supplied, missingMsg string) error {
	if strings.TrimSpace(supplied) == "" {
		return E(ErrForbidden, missingMsg)
	}
	if a.passkey == "" || !passkeyEqual(a.passkey, supplied) {
		return E(ErrForbidden, "invalid admin passkey")
	}
	return nil
}

// passkeyEqual compares digests so neither content nor length short-circuits.
func passkeyEqual(expected, supplied string) bool {
	e := sha256.Sum256([]byte(expected))
	s := sha256.Sum256([]byte(supplied))
	return subtle.ConstantTimeCompare(e[:], s[:]) == 1
}
