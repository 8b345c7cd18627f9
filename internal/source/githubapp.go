package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppTokenResult is a short-lived GitHub App installation access token.
type AppTokenResult struct {
	Token     string
	ExpiresAt time.Time
}

// ExchangeGitHubAppToken signs a short-lived app JWT with the App's
// private key and exchanges it for an installation access token.
// Installation tokens last one hour; callers cache and re-exchange.
func ExchangeGitHubAppToken(ctx context.Context, pemBytes []byte, appID, installationID, apiBase string) (AppTokenResult, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return AppTokenResult{}, fmt.Errorf("parsing App private key: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		// Issued 60s in the past to absorb clock skew between us and
		// the provider; GitHub rejects future-dated iat outright.
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    appID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return AppTokenResult{}, fmt.Errorf("signing app JWT: %w", err)
	}

	if apiBase == "" {
		apiBase = defaultGitHubAPI
	}
	tokenURL := fmt.Sprintf("%s/app/installations/%s/access_tokens", strings.TrimRight(apiBase, "/"), installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
	if err != nil {
		return AppTokenResult{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return AppTokenResult{}, fmt.Errorf("requesting installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return AppTokenResult{}, fmt.Errorf("installation token exchange failed: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AppTokenResult{}, fmt.Errorf("decoding installation token: %w", err)
	}
	return AppTokenResult{Token: out.Token, ExpiresAt: out.ExpiresAt}, nil
}
