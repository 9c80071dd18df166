package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accessgate.io/internal/auth"
	"accessgate.io/internal/ids"
)

var errAlreadyGranted = auth.E(auth.ErrConflict, "user already has access to this resource")

// UserLookup resolves user ids referenced by resources.
type UserLookup interface {
	Find(ctx context.Context, id string) (auth.User, error)
}

// Directory is the admin-managed catalogue of resources and their access lists.
// Every operation takes the caller identity explicitly.
type Directory struct {
	store Store
	users UserLookup
	audit auth.Recorder
	now   func() time.Time
}

// NewDirectory wires the resource store, user lookup and audit recorder.
func NewDirectory(store Store, users UserLookup, rec auth.Recorder) (*Directory, error) {
	if store == nil {
		return nil, errors.New("resource: store is required")
	}
	if users == nil {
		return nil, errors.New("resource: user lookup is required")
	}
	if rec == nil {
		return nil, errors.New("resource: audit recorder is required")
	}
	return &Directory{store: store, users: users, audit: rec, now: time.Now}, nil
}

// List returns the resources viewer may see: all of them for admins, the
// granted ones otherwise.
func (d *Directory) List(ctx context.Context, viewer auth.Identity) ([]Resource, error) {
	var (
		items []Resource
		err   error
	)
	if viewer.IsAdmin() {
		items, err = d.store.List(ctx)
	} else {
		items, err = d.store.ListAccessible(ctx, viewer.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	out := items[:0]
	for _, r := range items {
		if CanAccess(viewer, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListForAdmin returns every resource with grantees and creator expanded.
func (d *Directory) ListForAdmin(ctx context.Context, admin auth.Identity) ([]AdminView, error) {
	if err := auth.RequireRole(admin, auth.RoleAdmin); err != nil {
		return nil, err
	}
	items, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	cache := make(map[string]*auth.Summary)
	out := make([]AdminView, 0, len(items))
	for _, r := range items {
		view, err := d.expand(ctx, cache, r)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// Create adds a resource with an empty access list.
func (d *Directory) Create(ctx context.Context, admin auth.Identity, in CreateInput) (Resource, error) {
	if err := d.guard(ctx, admin, "create resource"); err != nil {
		return Resource{}, err
	}
	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	if name == "" || description == "" {
		d.audit.Record(ctx, admin.ID, "Failed to create resource: name and description are required", false)
		return Resource{}, auth.E(auth.ErrValidation, "name and description are required")
	}
	now := d.now().UTC()
	r := Resource{
		ID:              ids.New(),
		Name:            name,
		Description:     description,
		URL:             strings.TrimSpace(in.URL),
		UsersWithAccess: []string{},
		CreatedBy:       admin.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.store.Create(ctx, &r); err != nil {
		d.audit.Record(ctx, admin.ID, "Failed to create resource: "+name, false)
		return Resource{}, fmt.Errorf("create resource: %w", err)
	}
	d.audit.Record(ctx, admin.ID, "Created resource: "+r.Name, true)
	return r, nil
}

// Update overwrites only the supplied fields. Name and description, when
// supplied, must not be blank.
func (d *Directory) Update(ctx context.Context, admin auth.Identity, id string, upd Update) (Resource, error) {
	if err := d.guard(ctx, admin, "update resource"); err != nil {
		return Resource{}, err
	}
	id = strings.TrimSpace(id)
	if !ids.Valid(id) {
		d.audit.Record(ctx, admin.ID, "Failed to update resource "+id, false)
		return Resource{}, errResourceNotFound
	}
	if upd.Empty() {
		d.audit.Record(ctx, admin.ID, "Failed to update resource "+id+": no fields supplied", false)
		return Resource{}, auth.E(auth.ErrValidation, "at least one of name, description or url is required")
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			d.audit.Record(ctx, admin.ID, "Failed to update resource "+id+": name is required", false)
			return Resource{}, auth.E(auth.ErrValidation, "name is required")
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		if desc == "" {
			d.audit.Record(ctx, admin.ID, "Failed to update resource "+id+": description is required", false)
			return Resource{}, auth.E(auth.ErrValidation, "description is required")
		}
		upd.Description = &desc
	}
	if upd.URL != nil {
		u := strings.TrimSpace(*upd.URL)
		upd.URL = &u
	}

	r, err := d.store.Update(ctx, id, upd, d.now())
	if err != nil {
		d.audit.Record(ctx, admin.ID, "Failed to update resource "+id, false)
		if errors.Is(err, auth.ErrNotFound) {
			return Resource{}, errResourceNotFound
		}
		return Resource{}, fmt.Errorf("update resource: %w", err)
	}
	d.audit.Record(ctx, admin.ID, "Updated resource: "+r.Name, true)
	return r, nil
}

// Delete removes a resource and with it every access grant.
func (d *Directory) Delete(ctx context.Context, admin auth.Identity, id string) error {
	if err := d.guard(ctx, admin, "delete resource"); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if !ids.Valid(id) {
		d.audit.Record(ctx, admin.ID, "Failed to delete resource "+id, false)
		return errResourceNotFound
	}
	r, err := d.store.Get(ctx, id)
	if err == nil {
		err = d.store.Delete(ctx, id)
	}
	if err != nil {
		d.audit.Record(ctx, admin.ID, "Failed to delete resource "+id, false)
		if errors.Is(err, auth.ErrNotFound) {
			return errResourceNotFound
		}
		return fmt.Errorf("delete resource: %w", err)
	}
	d.audit.Record(ctx, admin.ID, "Deleted resource: "+r.Name, true)
	return nil
}

// AccessChange is the outcome of a grant or revoke.
type AccessChange struct {
	User     auth.User
	Resource AdminView
}

// GrantAccess adds userID to the resource's access list. A duplicate grant is
// rejected with auth.ErrConflict.
func (d *Directory) GrantAccess(ctx context.Context, admin auth.Identity, userID, resourceID string) (AccessChange, error) {
	if err := d.guard(ctx, admin, "grant access"); err != nil {
		return AccessChange{}, err
	}
	user, r, err := d.resolvePair(ctx, userID, resourceID)
	if err != nil {
		d.audit.Record(ctx, admin.ID, fmt.Sprintf("Failed to grant access to %s for %s", resourceID, userID), false)
		return AccessChange{}, err
	}
	if err := d.store.AddAccess(ctx, r.ID, user.ID); err != nil {
		d.audit.Record(ctx, admin.ID, fmt.Sprintf("Failed to grant access to %s for %s", r.Name, user.Name), false)
		switch {
		case errors.Is(err, auth.ErrConflict):
			return AccessChange{}, errAlreadyGranted
		case errors.Is(err, auth.ErrNotFound):
			return AccessChange{}, errResourceNotFound
		default:
			return AccessChange{}, fmt.Errorf("grant access: %w", err)
		}
	}
	d.audit.Record(ctx, admin.ID, fmt.Sprintf("Granted access to %s for %s", r.Name, user.Name), true)
	return d.change(ctx, user, r.ID)
}

// RevokeAccess removes userID from the resource's access list. Revoking an
// absent grant is not an error.
func (d *Directory) RevokeAccess(ctx context.Context, admin auth.Identity, userID, resourceID string) (AccessChange, error) {
	if err := d.guard(ctx, admin, "revoke access"); err != nil {
		return AccessChange{}, err
	}
	user, r, err := d.resolvePair(ctx, userID, resourceID)
	if err != nil {
		d.audit.Record(ctx, admin.ID, fmt.Sprintf("Failed to revoke access to %s from %s", resourceID, userID), false)
		return AccessChange{}, err
	}
	if err := d.store.RemoveAccess(ctx, r.ID, user.ID); err != nil {
		d.audit.Record(ctx, admin.ID, fmt.Sprintf("Failed to revoke access to %s from %s", r.Name, user.Name), false)
		if errors.Is(err, auth.ErrNotFound) {
			return AccessChange{}, errResourceNotFound
		}
		return AccessChange{}, fmt.Errorf("revoke access: %w", err)
	}
	d.audit.Record(ctx, admin.ID, fmt.Sprintf("Revoked access to %s from %s", r.Name, user.Name), true)
	return d.change(ctx, user, r.ID)
}

// guard enforces the admin role and records refused attempts.
func (d *Directory) guard(ctx context.Context, caller auth.Identity, op string) error {
	if err := auth.RequireRole(caller, auth.RoleAdmin); err != nil {
		d.audit.Record(ctx, caller.ID, "Denied: "+op, false)
		return err
	}
	return nil
}

func (d *Directory) resolvePair(ctx context.Context, userID, resourceID string) (auth.User, Resource, error) {
	userID = strings.TrimSpace(userID)
	resourceID = strings.TrimSpace(resourceID)
	if userID == "" || resourceID == "" {
		return auth.User{}, Resource{}, auth.E(auth.ErrValidation, "user ID and resource ID are required")
	}
	if !ids.Valid(resourceID) {
		return auth.User{}, Resource{}, errResourceNotFound
	}
	user, err := d.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.User{}, Resource{}, auth.E(auth.ErrNotFound, "user not found")
		}
		return auth.User{}, Resource{}, fmt.Errorf("find user: %w", err)
	}
	r, err := d.store.Get(ctx, resourceID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.User{}, Resource{}, errResourceNotFound
		}
		return auth.User{}, Resource{}, fmt.Errorf("find resource: %w", err)
	}
	return user, r, nil
}

func (d *Directory) change(ctx context.Context, user auth.User, resourceID string) (AccessChange, error) {
	r, err := d.store.Get(ctx, resourceID)
	if err != nil {
		return AccessChange{}, fmt.Errorf("reload resource: %w", err)
	}
	view, err := d.expand(ctx, make(map[string]*auth.Summary), r)
	if err != nil {
		return AccessChange{}, err
	}
	return AccessChange{User: user, Resource: view}, nil
}

func (d *Directory) expand(ctx context.Context, cache map[string]*auth.Summary, r Resource) (AdminView, error) {
	view := AdminView{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		URL:             r.URL,
		UsersWithAccess: make([]auth.Summary, 0, len(r.UsersWithAccess)),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	for _, id := range r.UsersWithAccess {
		s, err := d.summary(ctx, cache, id)
		if err != nil {
			return AdminView{}, err
		}
		if s != nil {
			view.UsersWithAccess = append(view.UsersWithAccess, *s)
		}
	}
	creator, err := d.summary(ctx, cache, r.CreatedBy)
	if err != nil {
		return AdminView{}, err
	}
	if creator != nil {
		c := *creator
		c.Role = ""
		view.CreatedBy = &c
	}
	return view, nil
}

func (d *Directory) summary(ctx context.Context, cache map[string]*auth.Summary, id string) (*auth.Summary, error) {
	if id == "" {
		return nil, nil
	}
	if s, ok := cache[id]; ok {
		return s, nil
	}
	u, err := d.users.Find(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			cache[id] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("resolve user %s: %w", id, err)
	}
	s := u.Summary()
	cache[id] = &s
	return &s, nil
}
