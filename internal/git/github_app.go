package git

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

const defaultGitHubAPI = "https://api.github.com"

// InstallationToken is a short-lived GitHub App installation token.
type InstallationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// ExchangeGitHubAppToken signs an App JWT with the PEM key and exchanges it
// for an installation access token.
func ExchangeGitHubAppToken(ctx context.Context, pemBytes []byte, appID, installationID int64, apiBaseURL string) (InstallationToken, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return InstallationToken{}, fmt.Errorf("parsing GitHub App private key: %w", err)
	}

	// Backdate iat to tolerate clock drift; GitHub caps exp at 10 minutes.
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", appID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return InstallationToken{}, fmt.Errorf("signing GitHub App JWT: %w", err)
	}

	base := strings.TrimRight(apiBaseURL, "/")
	if base == "" {
		base = defaultGitHubAPI
	}
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", base, installationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return InstallationToken{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := httpClient.Do(req)
	if err != nil {
		return InstallationToken{}, fmt.Errorf("requesting installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return InstallationToken{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return InstallationToken{}, fmt.Errorf("installation token request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok InstallationToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return InstallationToken{}, fmt.Errorf("decoding installation token: %w", err)
	}
	if tok.Token == "" {
		return InstallationToken{}, fmt.Errorf("installation token response had no token")
	}
	return tok, nil
}
