package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatekeep.org/internal/auth"
)

type accountStore struct{ db *sql.DB }

func (s accountStore) Attach(ctx context.Context, acc auth.OAuthAccount) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_oauth_accounts (user_id, oauth_provider_name, oauth_account_id)
		values ($1, $2, $3)
	`, acc.UserID, string(acc.Provider), acc.AccountID)
	return mapWriteErr(err)
}

func (s accountStore) Detach(ctx context.Context, userID string, provider auth.Provider) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx, `
		delete from user_oauth_accounts where user_id = $1 and oauth_provider_name = $2
	`, userID, string(provider)))
}

func (s accountStore) FindUserID(ctx context.Context, provider auth.Provider, accountID string) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	var userID string
	err := s.db.QueryRowContext(ctx, `
		select user_id from user_oauth_accounts
		where oauth_provider_name = $1 and oauth_account_id = $2
	`, string(provider), accountID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	return userID, err
}

func (s accountStore) ListByUser(ctx context.Context, userID string) ([]auth.OAuthAccount, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select oauth_provider_name, oauth_account_id
		from user_oauth_accounts
		where user_id = $1
		order by oauth_provider_name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.OAuthAccount
	for rows.Next() {
		acc := auth.OAuthAccount{UserID: userID}
		var provider string
		if err := rows.Scan(&provider, &acc.AccountID); err != nil {
			return nil, err
		}
		acc.Provider = auth.Provider(provider)
		result = append(result, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
