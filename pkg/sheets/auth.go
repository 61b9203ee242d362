package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-sync/internal/resilience"
)

// Scope grants read/write access to spreadsheets.
const Scope = "https://www.googleapis.com/auth/spreadsheets"

const defaultTokenURL = "https://oauth2.googleapis.com/token"

// TokenSource supplies bearer tokens for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", eris.New("sheets: empty static token")
	}
	return string(s), nil
}

// ServiceAccount is the subset of a Google service-account key file used
// for the JWT bearer grant.
type ServiceAccount struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads a service-account key file.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: read credentials %s", path)
	}
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, eris.Wrap(err, "sheets: parse credentials")
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, eris.Errorf("sheets: credentials %s missing client_email or private_key", path)
	}
	return &sa, nil
}

// ServiceAccountSource exchanges a signed JWT for an access token and caches
// it until shortly before expiry.
type ServiceAccountSource struct {
	sa       *ServiceAccount
	tokenURL string
	http     *http.Client
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewServiceAccountSource creates a token source for sa. An empty tokenURL
// falls back to the key file's token_uri, then the public Google endpoint.
func NewServiceAccountSource(sa *ServiceAccount, tokenURL string, hc *http.Client) *ServiceAccountSource {
	if tokenURL == "" {
		tokenURL = sa.TokenURI
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &ServiceAccountSource{sa: sa, tokenURL: tokenURL, http: hc, now: time.Now}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token implements TokenSource.
func (s *ServiceAccountSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(time.Minute).Before(s.expiry) {
		return s.token, nil
	}

	assertion, err := s.assertion(now)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "sheets: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "sheets: token exchange")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "sheets: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", resilience.HTTPStatusError("sheets token", resp, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", eris.Wrap(err, "sheets: unmarshal token response")
	}
	if tr.AccessToken == "" {
		return "", eris.New("sheets: token response has no access_token")
	}

	s.token = tr.AccessToken
	s.expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	return s.token, nil
}

func (s *ServiceAccountSource) assertion(now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.sa.PrivateKey))
	if err != nil {
		return "", eris.Wrap(err, "sheets: parse private key")
	}
	claims := jwt.MapClaims{
		"iss":   s.sa.ClientEmail,
		"scope": Scope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.sa.PrivateKeyID != "" {
		tok.Header["kid"] = s.sa.PrivateKeyID
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", eris.Wrap(err, "sheets: sign assertion")
	}
	return signed, nil
}
