package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// OAuthRefresher performs the refresh_token grant against a token endpoint.
type OAuthRefresher struct {
	cfg    *oauth2.Config
	client *http.Client
}

func NewOAuthRefresher(tokenURL, clientID, clientSecret string, client *http.Client) *OAuthRefresher {
	return &OAuthRefresher{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		client: client,
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if strings.TrimSpace(r.cfg.Endpoint.TokenURL) == "" {
		return nil, fmt.Errorf("token url is not configured")
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	tok, err := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && rejected(re) {
			return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, re.ErrorCode)
		}
		return nil, err
	}

	res := &RefreshResult{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry,
	}
	if tok.RefreshToken != refreshToken {
		res.RefreshToken = tok.RefreshToken
	}
	if id, ok := tok.Extra("account_id").(string); ok {
		res.AccountID = id
	}
	return res, nil
}

func rejected(re *oauth2.RetrieveError) bool {
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized
}
