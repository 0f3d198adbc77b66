package tabsync

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/MrEthical07/tabsync/oidc"
)

// User is the credential stored under KeyCurrentUser.
type User struct {
	ID          string `json:"id"`
	UserName    string `json:"userName"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	JobTitle    string `json:"jobTitle"`
	PhoneNumber string `json:"phoneNumber"`
	IsEnabled   bool   `json:"isEnabled"`
}

// FriendlyName returns the full name, or the user name when it is empty.
func (u *User) FriendlyName() string {
	if u == nil {
		return ""
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.UserName
}

// LoginRequest carries password-grant credentials.
type LoginRequest struct {
	UserName string
	Password string
	// RememberMe overrides the stored preference when set.
	RememberMe *bool
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserName, validation.Required, validation.Length(1, 256)),
		validation.Field(&r.Password, validation.Required),
	)
}

// TokenClient exchanges credentials for tokens. *oidc.Client implements it.
type TokenClient interface {
	LoginWithPassword(ctx context.Context, username, password string) (*oidc.TokenResponse, error)
}

// Navigator moves the user to a route.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

func (f NavigatorFunc) Navigate(ctx context.Context, url string) error { return f(ctx, url) }

var _ TokenClient = (*oidc.Client)(nil)
