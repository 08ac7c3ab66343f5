package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"communityforum/internal/util"
	"communityforum/pkg/auth"
	"communityforum/pkg/domain"
	"communityforum/pkg/store"
	"communityforum/services/auth/internal/oauth"
)

// Credential is one way of proving an identity to Authenticate. Exactly one
// implementation applies per request; handlers build the variant matching
// the endpoint that was called.
type Credential interface {
	// Method names the credential kind for logs and metrics.
	Method() string
}

// PasswordCredential authenticates with email and password.
type PasswordCredential struct {
	Email    string
	Password string
}

func (PasswordCredential) Method() string { return "password" }

// OAuthCode authenticates with an authorization code from an external
// provider.
type OAuthCode struct {
	Provider string
	Code     string
}

func (c OAuthCode) Method() string { return c.Provider }

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionSecret string
	SessionTTL    time.Duration
	JWTIssuer     string
	JWTAudience   string
	JWTLeeway     time.Duration

	Store     store.Store
	Sessions  store.SessionStore
	Providers *oauth.Registry
}

// App is the core application service wiring together storage, session
// issuance, and provider exchange.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	providers *oauth.Registry
}

// New constructs the application with database storage and session management.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		var revoker store.TokenRevoker
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		} else {
			revoker = store.NewMemoryTokenRevoker()
		}
		jwtStore, err := store.NewJWTSessionStoreWithOptions(cfg.SessionSecret, cfg.SessionTTL, revoker, store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	return &App{
		store:     dataStore,
		sessions:  sessionStore,
		providers: cfg.Providers,
	}, nil
}

// SignUp registers a new user and issues a session token.
func (a *App) SignUp(name, email, password string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return domain.User{}, "", ErrNameEmailPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user, err := a.createUser(name, email, passwordHash, "")
	if err != nil {
		return domain.User{}, "", err
	}
	return a.issueSession(user)
}

// Authenticate verifies a credential and issues a session token. Dispatch
// is on the credential variant: password credentials are checked against
// the stored hash, OAuth codes are exchanged with the provider and the
// external identity is provisioned on first sight.
func (a *App) Authenticate(ctx context.Context, cred Credential) (domain.User, string, error) {
	switch c := cred.(type) {
	case PasswordCredential:
		return a.authenticatePassword(c)
	case OAuthCode:
		return a.authenticateOAuth(ctx, c)
	default:
		return domain.User{}, "", fmt.Errorf("unsupported credential %T", cred)
	}
}

func (a *App) authenticatePassword(c PasswordCredential) (domain.User, string, error) {
	email := normalizeEmail(c.Email)
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	// A matching bcrypt check requires both a known email and a stored
	// hash; OAuth-only accounts have none and fall through to the same
	// error as a wrong password.
	if !ok || user.PasswordHash == "" || !auth.CheckPassword(c.Password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	return a.issueSession(user)
}

func (a *App) authenticateOAuth(ctx context.Context, c OAuthCode) (domain.User, string, error) {
	provider, ok := a.providers.Lookup(c.Provider)
	if !ok {
		return domain.User{}, "", ErrUnknownProvider
	}
	if strings.TrimSpace(c.Code) == "" {
		return domain.User{}, "", ErrOAuthCodeRequired
	}
	profile, err := provider.Exchange(ctx, c.Code)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %v", ErrProviderExchange, err)
	}

	user, found, err := a.store.GetUserByAccount(provider.Name(), profile.ExternalID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch account: %w", err)
	}
	if !found {
		user, err = a.provisionOAuthUser(provider.Name(), profile)
		if err != nil {
			return domain.User{}, "", err
		}
	}
	return a.issueSession(user)
}

// provisionOAuthUser links the external identity to an existing user with
// the same email, or creates a fresh account.
func (a *App) provisionOAuthUser(providerName string, profile oauth.Profile) (domain.User, error) {
	email := normalizeEmail(profile.Email)
	user, found, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		name := strings.TrimSpace(profile.Name)
		if name == "" {
			name = email
		}
		user, err = a.createUser(name, email, "", profile.Image)
		if err != nil {
			return domain.User{}, err
		}
	}
	account := domain.Account{
		Provider:          providerName,
		ProviderAccountID: profile.ExternalID,
		UserID:            user.ID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := a.store.LinkAccount(account); err != nil {
		return domain.User{}, fmt.Errorf("link account: %w", err)
	}
	return user, nil
}

// UserFromToken resolves a user from a session token. The subject is
// re-checked against the user table so deleted accounts stop resolving
// even while their tokens are unexpired.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// Logout invalidates a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

func (a *App) issueSession(user domain.User) (domain.User, string, error) {
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

func (a *App) createUser(name, email, passwordHash, image string) (domain.User, error) {
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		Image:        image,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
