package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	gogithub "github.com/google/go-github/github"
	"golang.org/x/oauth2"
	ghendpoint "golang.org/x/oauth2/github"
)

// GitHubProvider exchanges GitHub authorization codes and fetches the
// profile through the GitHub REST API.
type GitHubProvider struct {
	cfg *oauth2.Config
}

// NewGitHub builds a GitHub provider from OAuth client credentials.
func NewGitHub(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     ghendpoint.Endpoint,
		},
	}
}

func (g *GitHubProvider) Name() string { return "github" }

// Exchange trades the code for an access token and reads the authenticated
// user. GitHub hides the email on private profiles, so the primary address
// is resolved through the emails endpoint when needed.
func (g *GitHubProvider) Exchange(ctx context.Context, code string) (Profile, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("github code exchange: %w", err)
	}

	client := gogithub.NewClient(g.cfg.Client(ctx, tok))
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return Profile{}, fmt.Errorf("fetch github user: %w", err)
	}
	if user.GetID() == 0 {
		return Profile{}, errors.New("github user has no id")
	}

	email := user.GetEmail()
	if email == "" {
		email, err = g.primaryEmail(ctx, client)
		if err != nil {
			return Profile{}, err
		}
	}

	name := user.GetName()
	if name == "" {
		name = user.GetLogin()
	}

	return Profile{
		ExternalID: strconv.FormatInt(user.GetID(), 10),
		Email:      email,
		Name:       name,
		Image:      user.GetAvatarURL(),
	}, nil
}

func (g *GitHubProvider) primaryEmail(ctx context.Context, client *gogithub.Client) (string, error) {
	emails, _, err := client.Users.ListEmails(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("list github emails: %w", err)
	}
	for _, e := range emails {
		if e.GetPrimary() && e.GetVerified() {
			return e.GetEmail(), nil
		}
	}
	for _, e := range emails {
		if e.GetEmail() != "" {
			return e.GetEmail(), nil
		}
	}
	return "", errors.New("github profile exposes no email")
}
