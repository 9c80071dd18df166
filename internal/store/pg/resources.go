package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"accessgate.io/internal/auth"
	"accessgate.io/internal/ids"
	"accessgate.io/internal/resource"
)

// Resources stores the directory. Access lists live in resource_access, which
// cascades on delete of either side.
type Resources struct {
	db *sql.DB
}

var _ resource.Store = (*Resources)(nil)

var (
	errResourceNotFound = auth.E(auth.ErrNotFound, "resource not found")
	errAlreadyGranted   = auth.E(auth.ErrConflict, "user already has access to this resource")
)

const resourceColumns = `r.id, r.name, r.description, r.url, r.created_by, r.created_at, r.updated_at`

func (s *Resources) Create(ctx context.Context, r *resource.Resource) error {
	if s.db == nil {
		return errNoDB
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into resources (id, name, description, url, created_by)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, r.ID, r.Name, r.Description, nullIfEmpty(r.URL), nullIfEmpty(r.CreatedBy)).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isCode(err, pgErrUniqueViolation) {
			return auth.E(auth.ErrConflict, "resource already exists")
		}
		return err
	}
	r.UsersWithAccess = []string{}
	return nil
}

func (s *Resources) Get(ctx context.Context, id string) (resource.Resource, error) {
	if s.db == nil {
		return resource.Resource{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+resourceColumns+` from resources r where r.id = $1`, id)
	r, err := scanResource(row)
	if err != nil {
		return resource.Resource{}, err
	}
	access, err := s.accessLists(ctx, []string{r.ID})
	if err != nil {
		return resource.Resource{}, err
	}
	r.UsersWithAccess = orEmpty(access[r.ID])
	return r, nil
}

func (s *Resources) List(ctx context.Context) ([]resource.Resource, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+resourceColumns+`
		from resources r
		order by r.created_at, r.id
	`)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, rows)
}

func (s *Resources) ListAccessible(ctx context.Context, userID string) ([]resource.Resource, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+resourceColumns+`
		from resources r
		join resource_access a on a.resource_id = r.id
		where a.user_id = $1
		order by r.created_at, r.id
	`, userID)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, rows)
}

// Update applies the supplied fields in a single statement.
func (s *Resources) Update(ctx context.Context, id string, upd resource.Update, at time.Time) (resource.Resource, error) {
	if s.db == nil {
		return resource.Resource{}, errNoDB
	}
	var name, description, url sql.NullString
	if upd.Name != nil {
		name = sql.NullString{String: *upd.Name, Valid: true}
	}
	if upd.Description != nil {
		description = sql.NullString{String: *upd.Description, Valid: true}
	}
	setURL := upd.URL != nil
	if setURL {
		url = nullIfEmpty(*upd.URL)
	}
	row := s.db.QueryRowContext(ctx, `
		update resources r set
			name = coalesce($2, r.name),
			description = coalesce($3, r.description),
			url = case when $4::boolean then $5::text else r.url end,
			updated_at = $6
		where r.id = $1
		returning `+resourceColumns, id, name, description, setURL, url, at.UTC())
	r, err := scanResource(row)
	if err != nil {
		return resource.Resource{}, err
	}
	access, err := s.accessLists(ctx, []string{r.ID})
	if err != nil {
		return resource.Resource{}, err
	}
	r.UsersWithAccess = orEmpty(access[r.ID])
	return r, nil
}

func (s *Resources) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from resources where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errResourceNotFound
	}
	return nil
}

// AddAccess inserts the grant atomically. An existing row yields a conflict.
func (s *Resources) AddAccess(ctx context.Context, resourceID, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		insert into resource_access (resource_id, user_id)
		values ($1, $2)
		on conflict (resource_id, user_id) do nothing
	`, resourceID, userID)
	if err != nil {
		if isCode(err, pgErrForeignKeyViolation) {
			return auth.E(auth.ErrNotFound, "resource or user not found")
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errAlreadyGranted
	}
	return nil
}

func (s *Resources) RemoveAccess(ctx context.Context, resourceID, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		delete from resource_access
		where resource_id = $1 and user_id = $2
	`, resourceID, userID)
	return err
}

func (s *Resources) collect(ctx context.Context, rows *sql.Rows) ([]resource.Resource, error) {
	defer rows.Close()
	result := []resource.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	idList := make([]string, len(result))
	for i, r := range result {
		idList[i] = r.ID
	}
	access, err := s.accessLists(ctx, idList)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].UsersWithAccess = orEmpty(access[result[i].ID])
	}
	return result, nil
}

// accessLists loads grantees in grant order, keyed by resource id.
func (s *Resources) accessLists(ctx context.Context, resourceIDs []string) (map[string][]string, error) {
	placeholders := make([]string, len(resourceIDs))
	args := make([]any, len(resourceIDs))
	for i, id := range resourceIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		select resource_id, user_id
		from resource_access
		where resource_id in (`+strings.Join(placeholders, ", ")+`)
		order by granted_at, user_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string, len(resourceIDs))
	for rows.Next() {
		var resourceID, userID string
		if err := rows.Scan(&resourceID, &userID); err != nil {
			return nil, err
		}
		out[resourceID] = append(out[resourceID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanResource(row scanner) (resource.Resource, error) {
	var (
		r         resource.Resource
		url       sql.NullString
		createdBy sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &url, &createdBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.Resource{}, errResourceNotFound
	}
	if err != nil {
		return resource.Resource{}, err
	}
	r.URL = url.String
	r.CreatedBy = createdBy.String
	return r, nil
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
