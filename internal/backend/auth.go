package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// ErrAuthRequired signals that no usable credentials exist for the session.
var ErrAuthRequired = errors.New("no stored credentials; run `aidectl login`")

// TokenSource supplies a bearer token for backend requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, used in tests and one-shot commands.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Authenticator exchanges credentials against the auth service and caches
// the short-lived access token, refreshing it from the stored refresh token
// when it expires. The refresh token is the only thing persisted, in the
// session dir with 0600.
type Authenticator struct {
	authURL   string
	anonKey   string
	tokenPath string
	hc        *http.Client

	mu      sync.Mutex
	access  string
	refresh string
	userID  string
	expiry  time.Time
}

type grantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

type tokenFile struct {
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// NewAuthenticator creates an authenticator for the given auth project.
func NewAuthenticator(authURL, anonKey, tokenPath string) *Authenticator {
	return &Authenticator{
		authURL:   authURL,
		anonKey:   anonKey,
		tokenPath: tokenPath,
		hc:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Login performs the password grant and stores the refresh token.
func (a *Authenticator) Login(ctx context.Context, email, password string) error {
	grant, err := a.grant(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}
	return a.adopt(grant)
}

// Token returns a valid access token, refreshing it when needed.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.access != "" && time.Now().Before(a.expiry.Add(-30*time.Second)) {
		return a.access, nil
	}

	if a.refresh == "" {
		if err := a.loadTokenFile(); err != nil {
			return "", ErrAuthRequired
		}
	}

	grant, err := a.grant(ctx, "refresh_token", map[string]string{
		"refresh_token": a.refresh,
	})
	if err != nil {
		return "", fmt.Errorf("refresh token grant: %w", err)
	}
	if err := a.adoptLocked(grant); err != nil {
		return "", err
	}
	return a.access, nil
}

// UserID returns the authenticated user id, or empty before the first grant.
func (a *Authenticator) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.userID == "" {
		_ = a.loadTokenFile()
	}
	return a.userID
}

// HasCredentials reports whether a refresh token is stored for the session.
func (a *Authenticator) HasCredentials() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refresh != "" {
		return true
	}
	return a.loadTokenFile() == nil
}

func (a *Authenticator) grant(ctx context.Context, grantType string, body map[string]string) (*grantResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/auth/v1/token?grant_type=%s", a.authURL, grantType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", a.anonKey)

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token grant: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token grant: unexpected status %d", resp.StatusCode)
	}

	var grant grantResponse
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("decode grant response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, errors.New("token grant: empty access token")
	}
	return &grant, nil
}

func (a *Authenticator) adopt(grant *grantResponse) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adoptLocked(grant)
}

func (a *Authenticator) adoptLocked(grant *grantResponse) error {
	a.access = grant.AccessToken
	a.refresh = grant.RefreshToken
	a.expiry = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if grant.User.ID != "" {
		a.userID = grant.User.ID
	}
	return a.saveTokenFile()
}

func (a *Authenticator) loadTokenFile() error {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return err
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return err
	}
	if tf.RefreshToken == "" {
		return ErrAuthRequired
	}
	a.refresh = tf.RefreshToken
	a.userID = tf.UserID
	return nil
}

func (a *Authenticator) saveTokenFile() error {
	data, err := json.Marshal(tokenFile{RefreshToken: a.refresh, UserID: a.userID})
	if err != nil {
		return err
	}
	return os.WriteFile(a.tokenPath, data, 0600)
}
