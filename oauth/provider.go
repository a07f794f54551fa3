package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const maxProfileBody = 1 << 20

// Profile is the provider identity, mapped to authcore's fields.
type Profile struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
}

// Provider adapts one OAuth identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// FetchProfile returns the identity behind tok. It fails with
	// ErrNoVerifiedEmail when no verified address is available.
	FetchProfile(ctx context.Context, tok *oauth2.Token) (Profile, error)
}

// ClientConfig is the OAuth application registration at a provider.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Endpoint and APIBaseURL default to the provider's public URLs.
	Endpoint   oauth2.Endpoint
	APIBaseURL string
}

func (c ClientConfig) oauth2Config(endpoint oauth2.Endpoint, scopes []string) *oauth2.Config {
	if c.Endpoint.TokenURL != "" {
		endpoint = c.Endpoint
	}
	if len(c.Scopes) > 0 {
		scopes = c.Scopes
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

type httpError struct {
	url    string
	status int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("oauth: GET %s: status %d", e.url, e.status)
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBody))
		return &httpError{url: url, status: resp.StatusCode}
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxProfileBody)).Decode(out)
}

// GitHub signs users in with a GitHub OAuth app. GitHub omits the email from
// /user when it is private, so the adapter falls back to /user/emails.
type GitHub struct {
	cfg *oauth2.Config
	api string
}

func NewGitHub(c ClientConfig) *GitHub {
	api := strings.TrimRight(c.APIBaseURL, "/")
	if api == "" {
		api = "https://api.github.com"
	}
	return &GitHub{cfg: c.oauth2Config(github.Endpoint, []string{"read:user", "user:email"}), api: api}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

func (g *GitHub) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.cfg.Exchange(ctx, code)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *GitHub) FetchProfile(ctx context.Context, tok *oauth2.Token) (Profile, error) {
	client := g.cfg.Client(ctx, tok)

	var u githubUser
	if err := getJSON(ctx, client, g.api+"/user", &u); err != nil {
		return Profile{}, err
	}
	if u.ID == 0 {
		return Profile{}, errors.New("oauth: github user without id")
	}
	p := Profile{
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Email:          u.Email,
		Name:           u.Name,
		AvatarURL:      u.AvatarURL,
	}
	if p.Name == "" {
		p.Name = u.Login
	}
	if p.Email != "" {
		return p, nil
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, g.api+"/user/emails", &emails); err != nil {
		return Profile{}, err
	}
	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			p.Email = e.Email
			return p, nil
		}
	}
	return Profile{}, ErrNoVerifiedEmail
}

// Google signs users in with Google's OpenID Connect userinfo endpoint.
type Google struct {
	cfg      *oauth2.Config
	userinfo string
}

func NewGoogle(c ClientConfig) *Google {
	userinfo := "https://openidconnect.googleapis.com/v1/userinfo"
	if c.APIBaseURL != "" {
		userinfo = strings.TrimRight(c.APIBaseURL, "/") + "/v1/userinfo"
	}
	return &Google{
		cfg:      c.oauth2Config(google.Endpoint, []string{"openid", "email", "profile"}),
		userinfo: userinfo,
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

func (g *Google) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.cfg.Exchange(ctx, code)
}

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (g *Google) FetchProfile(ctx context.Context, tok *oauth2.Token) (Profile, error) {
	var u googleUser
	if err := getJSON(ctx, g.cfg.Client(ctx, tok), g.userinfo, &u); err != nil {
		return Profile{}, err
	}
	if u.Sub == "" {
		return Profile{}, errors.New("oauth: google user without sub")
	}
	if u.Email == "" || !u.EmailVerified {
		return Profile{}, ErrNoVerifiedEmail
	}
	return Profile{
		ProviderUserID: u.Sub,
		Email:          u.Email,
		Name:           u.Name,
		AvatarURL:      u.Picture,
	}, nil
}
