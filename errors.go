package tabsync

import "errors"

var (
	// ErrMissingIDToken is returned when a login response carries no identity token.
	ErrMissingIDToken = errors.New("id token can not be empty")
	// ErrMissingAccessToken is returned when a login response carries no access token.
	ErrMissingAccessToken = errors.New("access token can not be empty")
	// ErrNilUser is returned by Save without a user.
	ErrNilUser = errors.New("user can not be nil")
	// ErrInvalidLoginRequest wraps LoginRequest validation failures.
	ErrInvalidLoginRequest = errors.New("invalid login request")
	// ErrNoTokenClient is returned by LoginWithPassword when no token client is configured.
	ErrNoTokenClient = errors.New("token client not configured")
	// ErrNoBackend is returned by Build when neither Redis nor a memory hub was supplied.
	ErrNoBackend = errors.New("persistent backend required")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrClientClosed is returned by operations on a closed Client.
	ErrClientClosed = errors.New("client closed")
)
