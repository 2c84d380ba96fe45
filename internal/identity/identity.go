package identity

import "errors"

// ErrNoIdentity is returned when a chat operation is attempted without an
// authenticated user. The operation is refused before any store call.
var ErrNoIdentity = errors.New("no authenticated user")

// User is the profile supplied by the identity provider. The chat core
// reads it, never writes it.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Name returns the display name with the product's fallback for users who
// never set one.
func (u *User) Name() string {
	if u == nil || u.DisplayName == "" {
		return "User"
	}
	return u.DisplayName
}

// Require returns ErrNoIdentity unless u carries a usable id.
func Require(u *User) error {
	if u == nil || u.ID == "" {
		return ErrNoIdentity
	}
	return nil
}
