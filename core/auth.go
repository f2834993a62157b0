package core

import (
	"context"
	"errors"
)

// Profile carries the role and presentation fields of a user.
type Profile struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role"`
	Bio       string `json:"bio,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// User represents the authenticated principal as returned by the backend.
type User struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	IsActive  bool     `json:"isActive"`
	Profile   *Profile `json:"profile,omitempty"`
}

// RoleName returns the raw role string, empty when the profile is missing.
func (u User) RoleName() string {
	if u.Profile == nil {
		return ""
	}
	return u.Profile.Role
}

// Role parses the profile role; unknown roles yield an error.
func (u User) Role() (Role, error) {
	return ParseRole(u.RoleName())
}

func (u User) clone() *User {
	c := u
	if u.Profile != nil {
		p := *u.Profile
		c.Profile = &p
	}
	return &c
}

// ProfileUpdate is a partial update; nil fields are left untouched.
type ProfileUpdate struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	Email       *string `json:"email,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
}

// ProfileResult mirrors the backend's {success, errors} mutation payload.
type ProfileResult struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// AuthPayload is the result of a successful credential exchange.
type AuthPayload struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         User   `json:"user"`
}

var (
	// ErrInvalidCredentials is returned when username/password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleDenied is returned when valid credentials belong to a non-admin role.
	ErrRoleDenied = errors.New("access denied: admin or manager role required")
	// ErrNoToken is returned by operations that need a stored bearer token.
	ErrNoToken = errors.New("not authenticated")
)

// Backend is the slice of the GraphQL API the session core depends on.
type Backend interface {
	Authenticate(ctx context.Context, username, password string) (AuthPayload, error)
	FetchCurrentUser(ctx context.Context, token string) (User, error)
	UpdateUserProfile(ctx context.Context, token string, in ProfileUpdate) (ProfileResult, error)
}

// PasswordResult mirrors the {success, message, errors} payload of the reset mutations.
type PasswordResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// AdminBackend is everything the HTTP layer needs from the GraphQL API.
type AdminBackend interface {
	Backend
	RequestPasswordReset(ctx context.Context, email string) (PasswordResult, error)
	ResetPassword(ctx context.Context, uid, token, username, newPassword string) (PasswordResult, error)
	Forward(ctx context.Context, token string, body []byte) (int, []byte, error)
}
