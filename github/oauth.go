package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	gh "github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

// ErrOAuthExchange is returned when GitHub refuses or mangles the code
// exchange. Callers map it to a bad-gateway response.
var ErrOAuthExchange = errors.New("oauth exchange failed")

// Profile is the subset of a GitHub account the service stores.
type Profile struct {
	GithubID  int64
	Login     string
	Email     *string
	AvatarURL *string
}

// OAuth drives the GitHub login flow.
type OAuth struct {
	conf *oauth2.Config
}

// NewOAuth builds the flow for one OAuth app.
func NewOAuth(clientID, clientSecret, redirectURL string) *OAuth {
	return &OAuth{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     oauthgithub.Endpoint,
		},
	}
}

// AuthCodeURL returns the github.com authorize URL carrying the signed state.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.conf.AuthCodeURL(state)
}

// ExchangeCode trades the callback code for an access token.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := o.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: GitHub access token missing", ErrOAuthExchange)
	}
	return token, nil
}

// FetchProfile loads the authenticated user. When the profile hides its
// email, the primary verified address from the emails endpoint is used
// instead, if any.
func (o *OAuth) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	return fetchProfile(ctx, o.conf.Client(ctx, token), "")
}

func fetchProfile(ctx context.Context, httpClient *http.Client, baseURL string) (*Profile, error) {
	api := gh.NewClient(httpClient)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse base url: %w", err)
		}
		api.BaseURL = parsed
	}

	user, _, err := api.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch GitHub profile: %v", ErrOAuthExchange, err)
	}

	profile := &Profile{
		GithubID: user.GetID(),
		Login:    user.GetLogin(),
	}
	if user.Email != nil && *user.Email != "" {
		profile.Email = user.Email
	}
	if user.AvatarURL != nil && *user.AvatarURL != "" {
		profile.AvatarURL = user.AvatarURL
	}

	if profile.Email == nil {
		emails, _, err := api.Users.ListEmails(ctx, nil)
		if err == nil {
			for _, email := range emails {
				if email.GetPrimary() && email.GetVerified() {
					addr := email.GetEmail()
					profile.Email = &addr
					break
				}
			}
		}
	}
	return profile, nil
}
