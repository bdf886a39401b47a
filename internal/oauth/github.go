package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPI = "https://api.github.com"

// GitHub — вход через GitHub OAuth2; e-mail берётся из /user/emails.
type GitHub struct {
	cfg     *oauth2.Config
	apiBase string
}

// NewGitHub настраивает клиента GitHub. Пустые endpoint и apiBase —
// публичный GitHub.
func NewGitHub(clientID, clientSecret, redirectURL string) *GitHub {
	return &GitHub{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBase: githubAPI,
	}
}

// WithEndpoints переопределяет OAuth-endpoint и базовый URL API
// (GitHub Enterprise).
func (g *GitHub) WithEndpoints(ep oauth2.Endpoint, apiBase string) *GitHub {
	g.cfg.Endpoint = ep
	g.apiBase = strings.TrimRight(apiBase, "/")
	return g
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) AuthCodeURL(state, codeChallenge string) string {
	return g.cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (g *GitHub) Exchange(ctx context.Context, code, verifier string) (*UserInfo, error) {
	token, err := g.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("github token exchange: %w", err)
	}

	client := g.cfg.Client(ctx, token)

	var user struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}
	if err := g.getJSON(ctx, client, "/user", &user); err != nil {
		return nil, err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := g.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		return nil, err
	}

	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			return &UserInfo{Subject: strconv.FormatInt(user.ID, 10), Email: e.Email, EmailVerified: true}, nil
		}
	}

	return nil, ErrNoEmail
}

func (g *GitHub) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github %s: unexpected status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
