package resource

import (
	"time"

	"accessgate.io/internal/auth"
)

// Resource is a named external link guarded by an allow-list of user ids.
type Resource struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	URL             string    `json:"url,omitempty"`
	UsersWithAccess []string  `json:"usersWithAccess"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Listing is the public shape of a resource: no access list, no creator.
type Listing struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

// Listing strips r down to its public fields.
func (r Resource) Listing() Listing {
	return Listing{ID: r.ID, Name: r.Name, Description: r.Description, URL: r.URL}
}

// AdminView is a resource with its user references expanded for the admin console.
type AdminView struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	URL             string         `json:"url,omitempty"`
	UsersWithAccess []auth.Summary `json:"usersWithAccess"`
	CreatedBy       *auth.Summary  `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// CreateInput carries the fields of a new resource.
type CreateInput struct {
	Name        string
	Description string
	URL         string
}

// Update is a partial update. A nil field is left unchanged; URL set to an
// empty string clears the link.
type Update struct {
	Name        *string
	Description *string
	URL         *string
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Name == nil && u.Description == nil && u.URL == nil
}

// Apply copies the supplied fields onto r.
func (u Update) Apply(r *Resource) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.URL != nil {
		r.URL = *u.URL
	}
}
