package db

import (
	"context"

	"github.com/ystemsrx/checkin-system/internal/model"
)

const userColumns = `id, username, email, password_hash, role, name, avatar, is_active, is_deleted, password_version, created_at`

func scanUser(row interface{ Scan(dest ...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Name, &u.Avatar, &u.IsActive, &u.IsDeleted, &u.PasswordVersion, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetLiveUserByUsername(ctx context.Context, username, role string) (model.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1 AND role = $2 AND NOT is_deleted`, username, role)
	return scanUser(row)
}

func (s *Store) CreateUser(ctx context.Context, u model.User) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, role, name, avatar, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		u.Username, u.Email, u.PasswordHash, u.Role, u.Name, u.Avatar, u.IsActive,
	).Scan(&id)
	return id, err
}

func (s *Store) UpdateUserProfile(ctx context.Context, id int64, email, avatar string) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET email = $2, avatar = $3 WHERE id = $1`, id, email, avatar)
	return err
}

// EmailInUse checks uniqueness among live users, ignoring the user making
// the change.
func (s *Store) EmailInUse(ctx context.Context, email string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE email = $1 AND id <> $2 AND NOT is_deleted
		)`, email, excludeID).Scan(&exists)
	return exists, err
}

// UpdateUserPassword replaces the hash and bumps password_version so every
// previously issued token stops verifying. Returns the new version.
func (s *Store) UpdateUserPassword(ctx context.Context, id int64, hash string) (int, error) {
	var version int
	err := s.db.QueryRow(ctx, `
		UPDATE users SET password_hash = $2, password_version = password_version + 1
		WHERE id = $1
		RETURNING password_version`, id, hash).Scan(&version)
	return version, err
}

func (s *Store) ListOrganizers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = 'organizer' AND NOT is_deleted
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ToggleOrganizerStatus flips is_active. Deactivating bumps the password
// version so outstanding tokens die immediately; reactivating does not.
func (s *Store) ToggleOrganizerStatus(ctx context.Context, id int64) (model.User, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users SET
			is_active = NOT is_active,
			password_version = password_version + CASE WHEN is_active THEN 1 ELSE 0 END
		WHERE id = $1 AND role = 'organizer' AND NOT is_deleted
		RETURNING `+userColumns, id)
	return scanUser(row)
}

func (s *Store) SetOrganizerPassword(ctx context.Context, id int64, hash string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, password_version = password_version + 1
		WHERE id = $1 AND role = 'organizer' AND NOT is_deleted`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SoftDeleteOrganizer(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET is_deleted = TRUE, is_active = FALSE, password_version = password_version + 1
		WHERE id = $1 AND role = 'organizer' AND NOT is_deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Credentials

func (s *Store) GetCredentialByAccountID(ctx context.Context, accountID string) (model.Credential, error) {
	var c model.Credential
	err := s.db.QueryRow(ctx, `
		SELECT id, account_id, password_hash, name, created_at, updated_at
		FROM credentials WHERE account_id = $1`, accountID,
	).Scan(&c.ID, &c.AccountID, &c.PasswordHash, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) UpsertCredential(ctx context.Context, accountID, hash, name string) (model.Credential, error) {
	var c model.Credential
	err := s.db.QueryRow(ctx, `
		INSERT INTO credentials (account_id, password_hash, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			name = EXCLUDED.name,
			updated_at = now()
		RETURNING id, account_id, password_hash, name, created_at, updated_at`,
		accountID, hash, name,
	).Scan(&c.ID, &c.AccountID, &c.PasswordHash, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
