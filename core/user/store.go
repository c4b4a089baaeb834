package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var ErrNotFound = errors.New("user not found")

func Create(ctx context.Context, db sqlx.ExtContext, usr User) error {
	const q = `
	INSERT INTO users
		(user_id, name, email, password_hash, roles, permissions, active, created_at, updated_at)
	VALUES
		(:user_id, :name, :email, :password_hash, :roles, :permissions, :active, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, usr); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (User, error) {
	const q = `SELECT * FROM users WHERE user_id = $1`

	var usr User
	if err := sqlx.GetContext(ctx, db, &usr, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("selecting user[%s]: %w", id, err)
	}
	return usr, nil
}

func FetchByEmail(ctx context.Context, db sqlx.ExtContext, email string) (User, error) {
	const q = `SELECT * FROM users WHERE email = $1`

	var usr User
	if err := sqlx.GetContext(ctx, db, &usr, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("selecting user by email: %w", err)
	}
	return usr, nil
}

// List returns every account, newest first.
func List(ctx context.Context, db sqlx.ExtContext) ([]User, error) {
	const q = `SELECT * FROM users ORDER BY created_at DESC, user_id`

	users := []User{}
	if err := sqlx.SelectContext(ctx, db, &users, q); err != nil {
		return nil, fmt.Errorf("selecting users: %w", err)
	}
	return users, nil
}

// FetchActiveByRole returns all active users holding the given role.
func FetchActiveByRole(ctx context.Context, db sqlx.ExtContext, role string) ([]User, error) {
	const q = `SELECT * FROM users WHERE active AND $1 = ANY(roles) ORDER BY user_id`

	users := []User{}
	if err := sqlx.SelectContext(ctx, db, &users, q, role); err != nil {
		return nil, fmt.Errorf("selecting users with role[%s]: %w", role, err)
	}
	return users, nil
}

// UpdateRoles replaces the role membership and the cached permission set
// in one statement. The permission set is always recomputed wholesale by
// the caller, never patched.
func UpdateRoles(ctx context.Context, db sqlx.ExtContext, id string, roles []string, perms []string) error {
	const q = `
	UPDATE users SET
		roles = :roles,
		permissions = :permissions,
		updated_at = :updated_at
	WHERE user_id = :user_id`

	data := struct {
		ID        string         `db:"user_id"`
		Roles     pq.StringArray `db:"roles"`
		Perms     pq.StringArray `db:"permissions"`
		UpdatedAt time.Time      `db:"updated_at"`
	}{
		ID:        id,
		Roles:     roles,
		Perms:     perms,
		UpdatedAt: time.Now().UTC(),
	}

	if _, err := sqlx.NamedExecContext(ctx, db, q, data); err != nil {
		return fmt.Errorf("updating roles of user[%s]: %w", id, err)
	}
	return nil
}
