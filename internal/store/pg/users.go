package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatekeep.org/internal/auth"
)

type userStore struct{ db *sql.DB }

const userColumns = `id, email, hashed_password, is_active, is_superuser, is_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsSuperuser, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.PasswordHash, u.IsActive, u.IsSuperuser, u.IsVerified, u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

func (s userStore) find(ctx context.Context, where string, arg any) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.find(ctx, `id = $1`, id)
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.find(ctx, `email = $1`, email)
}

func (s userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx, `
		update users set hashed_password = $2, updated_at = now() where id = $1
	`, userID, passwordHash))
}

func (s userStore) UpdateEmail(ctx context.Context, userID, email string) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx, `
		update users set email = $2, updated_at = now() where id = $1
	`, userID, email))
}

func (s userStore) List(ctx context.Context, offset, limit int) ([]*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		order by created_at, id
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.User
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

func (s userStore) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}
