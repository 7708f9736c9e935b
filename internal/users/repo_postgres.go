package users

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, userID string) (Profile, error) {
	const q = `
SELECT id, COALESCE(agent_id, ''), COALESCE(voice_account_sid, ''), COALESCE(voice_auth_token, ''),
       COALESCE(phone_number, ''), COALESCE(agent_phone_number_id, '')
FROM user_profiles
WHERE id = $1
`
	var p Profile
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&p.ID,
		&p.AgentID,
		&p.VoiceAccountSID,
		&p.VoiceAuthToken,
		&p.PhoneNumber,
		&p.AgentPhoneNumberID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

func (r *PostgresRepo) SetPhoneNumber(ctx context.Context, userID, phoneNumber string) error {
	return r.set(ctx, `UPDATE user_profiles SET phone_number = $2, updated_at = now() WHERE id = $1`, userID, phoneNumber)
}

func (r *PostgresRepo) SetAgentPhoneNumberID(ctx context.Context, userID, bindingID string) error {
	return r.set(ctx, `UPDATE user_profiles SET agent_phone_number_id = $2, updated_at = now() WHERE id = $1`, userID, bindingID)
}

func (r *PostgresRepo) set(ctx context.Context, q, userID, value string) error {
	res, err := r.db.ExecContext(ctx, q, userID, value)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
