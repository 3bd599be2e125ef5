package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"nani/internal/domain"
	"nani/internal/infra"
)

// ErrMissingAnonKey indicates that the client was configured without the
// project's public API key.
var ErrMissingAnonKey = errors.New("supabase: anon key is required")

// Options configures the Supabase auth (GoTrue) client.
type Options struct {
	BaseURL        string
	AnonKey        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the hosted Supabase auth endpoints.
// It is the only component that speaks the provider's wire protocol;
// everything above it works with domain.Session values.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *infra.Logger
}

type otpRequest struct {
	Email      string `json:"email"`
	CreateUser bool   `json:"create_user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Message     string `json:"msg"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.AnonKey) == "" {
		return nil, ErrMissingAnonKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("supabase: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		anonKey:    strings.TrimSpace(opts.AnonKey),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SignInWithMagicLink asks the provider to email a one-time login link.
// The link lands on redirectTo, which should point at the local callback
// listener.
func (c *Client) SignInWithMagicLink(ctx context.Context, email, redirectTo string) error {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return fmt.Errorf("%w: email address looks malformed", domain.ErrValidation)
	}
	endpoint := c.baseURL + "/auth/v1/otp"
	if redirectTo != "" {
		endpoint += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.post(ctx, endpoint, "", otpRequest{Email: email, CreateUser: true}, nil)
}

// OAuthURL returns the hosted consent URL for the given OAuth provider.
// The caller opens it in a browser; no network call happens here.
func (c *Client) OAuthURL(provider, redirectTo string) string {
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/auth/v1/authorize?" + q.Encode()
}

// RefreshSession exchanges a stored refresh token for a fresh session.
// A rejected token maps to domain.ErrAuth so the gate forces re-login.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is empty", domain.ErrValidation)
	}
	var decoded tokenResponse
	endpoint := c.baseURL + "/auth/v1/token?grant_type=refresh_token"
	if err := c.post(ctx, endpoint, "", refreshRequest{RefreshToken: refreshToken}, &decoded); err != nil {
		return nil, err
	}
	if decoded.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", domain.ErrServer)
	}
	sess := SessionFromTokens(decoded.AccessToken, decoded.RefreshToken)
	if sess.UserID == "" {
		sess.UserID = decoded.User.ID
	}
	if sess.Email == "" {
		sess.Email = decoded.User.Email
	}
	if sess.ExpiresAt.IsZero() && decoded.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second)
	}
	return sess, nil
}

// User fetches the profile behind an access token.
func (c *Client) User(ctx context.Context, accessToken string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", "", fmt.Errorf("supabase: build request: %w", err)
	}
	c.setHeaders(req, accessToken)
	var decoded userResponse
	if err := c.do(req, &decoded); err != nil {
		return "", "", err
	}
	return decoded.ID, decoded.Email, nil
}

// SignOut revokes the session server side. Callers treat failures as
// advisory: local state is cleared regardless.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.post(ctx, c.baseURL+"/auth/v1/logout", accessToken, nil, nil)
}

// SessionFromTokens builds a session from a token pair delivered by the
// sign-in redirect. The access token's claims are read without signature
// verification; the back end is the party that verifies it, the client
// only needs the identity and expiry baked into it.
func SessionFromTokens(accessToken, refreshToken string) *domain.Session {
	sess := &domain.Session{
		AccessToken:  strings.TrimSpace(accessToken),
		RefreshToken: strings.TrimSpace(refreshToken),
	}
	token, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, jwt.MapClaims{})
	if err != nil {
		return sess
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return sess
	}
	if sub, ok := claims["sub"].(string); ok {
		sess.UserID = sub
	}
	if email, ok := claims["email"].(string); ok {
		sess.Email = email
	}
	if exp, ok := claims["exp"].(float64); ok && exp > 0 {
		sess.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return sess
}

func (c *Client) post(ctx context.Context, endpoint, accessToken string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("supabase: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("supabase: build request: %w", err)
	}
	c.setHeaders(req, accessToken)
	return c.do(req, out)
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: supabase: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: supabase: read response: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode >= 300 {
		detail := describeError(raw)
		c.logger.Debug().Int("status", resp.StatusCode).Str("detail", detail).Msg("supabase request failed")
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: supabase: %s", domain.ErrAuth, detail)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: supabase: status %d: %s", domain.ErrServer, resp.StatusCode, detail)
		default:
			return fmt.Errorf("%w: supabase: status %d: %s", domain.ErrValidation, resp.StatusCode, detail)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: supabase: decode response: %v", domain.ErrServer, err)
	}
	return nil
}

func describeError(raw []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		switch {
		case decoded.Description != "":
			return decoded.Description
		case decoded.Message != "":
			return decoded.Message
		case decoded.Error != "":
			return decoded.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
