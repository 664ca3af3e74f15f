package users

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresDirectory reads users from Postgres.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const userColumns = `id, pin, name, role, branch, email, email_verified, parent_email, parent_email_verified, phone_number, image_url, reference_image_url`

// ByPIN returns the user with the given PIN.
func (d *PostgresDirectory) ByPIN(ctx context.Context, pin string) (User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE pin = $1`, pin)
	return scanUser(row)
}

// ByID returns the user with the given id.
func (d *PostgresDirectory) ByID(ctx context.Context, id string) (User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// SetReferenceImage updates the stored reference photo URL.
func (d *PostgresDirectory) SetReferenceImage(ctx context.Context, id, url string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE users SET reference_image_url = $2, updated_at = NOW() WHERE id = $1
	`, id, url)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var branch, email, parentEmail, phone, imageURL, refURL sql.NullString
	err := row.Scan(&u.ID, &u.PIN, &u.Name, &u.Role, &branch, &email, &u.EmailVerified,
		&parentEmail, &u.ParentEmailVerified, &phone, &imageURL, &refURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.Branch = branch.String
	u.Email = email.String
	u.ParentEmail = parentEmail.String
	u.PhoneNumber = phone.String
	u.ImageURL = imageURL.String
	u.ReferenceImageURL = refURL.String
	return u, nil
}
