package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// The message is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	ErrNameEmailPasswordRequired = errors.New("name, email and password required")
	ErrEmailAlreadyExists        = errors.New("email already exists")

	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrOAuthCodeRequired = errors.New("authorization code required")
	// ErrProviderExchange wraps provider-side failures during code exchange.
	ErrProviderExchange = errors.New("oauth exchange failed")
)
