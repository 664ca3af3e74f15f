package users

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// User is a verifiable subject: a student or staff member with a stored
// reference photo. PIN is the short code typed at the kiosk.
type User struct {
	ID                  string `json:"id"`
	PIN                 string `json:"pin"`
	Name                string `json:"name"`
	Role                string `json:"role"` // "student" or "staff"
	Branch              string `json:"branch,omitempty"`
	Email               string `json:"email,omitempty"`
	EmailVerified       bool   `json:"email_verified"`
	ParentEmail         string `json:"parent_email,omitempty"`
	ParentEmailVerified bool   `json:"parent_email_verified"`
	PhoneNumber         string `json:"phone_number,omitempty"`
	ImageURL            string `json:"image_url,omitempty"`
	ReferenceImageURL   string `json:"reference_image_url,omitempty"`
}

// HasReference reports whether the user can be face-verified at all.
func (u User) HasReference() bool { return u.ReferenceImageURL != "" }

// Directory looks up and maintains verifiable subjects.
type Directory interface {
	ByPIN(ctx context.Context, pin string) (User, error)
	ByID(ctx context.Context, id string) (User, error)
	SetReferenceImage(ctx context.Context, id, url string) error
}
