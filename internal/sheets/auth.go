package sheets

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Scope grants read/write access to spreadsheets
	Scope = "https://www.googleapis.com/auth/spreadsheets"

	defaultTokenURI = "https://oauth2.googleapis.com/token"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// tokens are refreshed this long before they expire
	expiryMargin = 5 * time.Minute
)

// ServiceAccount is the subset of a Google service account key file in use
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads a service account JSON key file
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials %s: %w", path, err)
	}
	return ParseServiceAccount(data)
}

// ParseServiceAccount parses a service account JSON key
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if sa.Type != "" && sa.Type != "service_account" {
		return nil, fmt.Errorf("credentials type %q is not service_account", sa.Type)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("credentials lack client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	return &sa, nil
}

// assertionClaims are the claims of the JWT bearer assertion
type assertionClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenSource exchanges signed service account assertions for access
// tokens and caches the token until shortly before it expires
type TokenSource struct {
	sa     *ServiceAccount
	key    *rsa.PrivateKey
	scope  string
	client *http.Client
	now    func() time.Time

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

// NewTokenSource creates a token source for the given scope
func NewTokenSource(sa *ServiceAccount, scope string) (*TokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &TokenSource{
		sa:     sa,
		key:    key,
		scope:  scope,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}, nil
}

// Token returns a valid access token, refreshing it when needed
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.accessToken != "" && ts.now().Add(expiryMargin).Before(ts.expiresAt) {
		token := ts.accessToken
		ts.mu.RUnlock()
		return token, nil
	}
	ts.mu.RUnlock()

	return ts.refresh(ctx)
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	// Double-check
	if ts.accessToken != "" && ts.now().Add(expiryMargin).Before(ts.expiresAt) {
		return ts.accessToken, nil
	}

	assertion, err := ts.assertion()
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carries no access_token")
	}

	ts.accessToken = tok.AccessToken
	ts.expiresAt = ts.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return ts.accessToken, nil
}

// assertion signs a one-hour RS256 JWT for the token endpoint
func (ts *TokenSource) assertion() (string, error) {
	now := ts.now()
	claims := assertionClaims{
		Scope: ts.scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.sa.ClientEmail,
			Audience:  jwt.ClaimStrings{ts.sa.TokenURI},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if ts.sa.PrivateKeyID != "" {
		token.Header["kid"] = ts.sa.PrivateKeyID
	}

	signed, err := token.SignedString(ts.key)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}
	return signed, nil
}
