package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const googleIssuer = "https://accounts.google.com"

// Google — вход через Google OpenID Connect с проверкой ID-токена.
type Google struct {
	cfg      *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle выполняет discovery издателя и настраивает верификатор.
func NewGoogle(ctx context.Context, clientID, clientSecret, redirectURL string) (*Google, error) {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery: %w", err)
	}

	return &Google{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) AuthCodeURL(state, codeChallenge string) string {
	return g.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (g *Google) Exchange(ctx context.Context, code, verifier string) (*UserInfo, error) {
	token, err := g.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("google token exchange: %w", err)
	}

	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, errors.New("google did not return id_token")
	}

	idToken, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("google id_token verification: %w", err)
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google id_token claims: %w", err)
	}

	if claims.Email == "" || !claims.EmailVerified {
		return nil, ErrNoEmail
	}

	return &UserInfo{Subject: claims.Subject, Email: claims.Email, EmailVerified: true}, nil
}
