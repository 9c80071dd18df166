package pg

import (
	"context"
	"database/sql"
	"errors"

	"accessgate.io/internal/auth"
	"accessgate.io/internal/ids"
)

// Users is the PostgreSQL credential store.
type Users struct {
	db *sql.DB
}

var _ auth.UserStore = (*Users)(nil)

var errUserNotFound = auth.E(auth.ErrNotFound, "user not found")

const userColumns = `id, name, email, password_hash, role, created_at`

func (s *Users) Create(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = auth.NormalizeEmail(u.Email)
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, name, email, password_hash, role)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role)).Scan(&u.CreatedAt)
	if err != nil {
		if isCode(err, pgErrUniqueViolation) {
			return auth.E(auth.ErrConflict, "user already exists")
		}
		return err
	}
	return nil
}

func (s *Users) Find(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *Users) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, auth.NormalizeEmail(email))
	return scanUser(row)
}

// List orders by name case-insensitively, then id.
func (s *Users) List(ctx context.Context) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by lower(name), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, errUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	return u, nil
}
