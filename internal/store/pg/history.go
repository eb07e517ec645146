package pg

import (
	"context"
	"database/sql"

	"gatekeep.org/internal/auth"
)

type historyStore struct{ db *sql.DB }

func (s historyStore) Insert(ctx context.Context, h *auth.LoginHistory) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_login_history (id, user_id, ip_address, user_agent, device, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, h.ID, h.UserID, h.IPAddress, h.UserAgent, string(h.Device), h.IsActive, h.CreatedAt)
	return mapWriteErr(err)
}

func (s historyStore) List(ctx context.Context, userID string, offset, limit int) ([]*auth.LoginHistory, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, ip_address, user_agent, device, is_active, created_at
		from user_login_history
		where user_id = $1
		order by created_at desc
		limit $2 offset $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.LoginHistory
	for rows.Next() {
		var (
			h      auth.LoginHistory
			device string
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.IPAddress, &h.UserAgent, &device, &h.IsActive, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Device = auth.Device(device)
		result = append(result, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s historyStore) Count(ctx context.Context, userID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from user_login_history where user_id = $1`, userID).Scan(&n)
	return n, err
}

func (s historyStore) SetLatestActive(ctx context.Context, userID, userAgent string, active bool) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx, `
		update user_login_history set is_active = $3
		where (id, created_at) = (
			select id, created_at from user_login_history
			where user_id = $1 and user_agent = $2
			order by created_at desc
			limit 1
		)
	`, userID, userAgent, active))
}

func (s historyStore) DeactivateAll(ctx context.Context, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		update user_login_history set is_active = false where user_id = $1 and is_active
	`, userID)
	return err
}
