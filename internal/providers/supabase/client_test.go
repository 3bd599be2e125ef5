package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nani/internal/domain"
)

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
	lastReq   *http.Request
}

type responseStub struct {
	status int
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastReq = req
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	stub, ok := c.responses[req.URL.Path]
	if !ok {
		stub = responseStub{status: http.StatusNotFound, body: []byte(`{"msg":"no stub"}`)}
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(stub.body)),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, status int, payload any) {
	raw, _ := json.Marshal(payload)
	c.responses[path] = responseStub{status: status, body: raw}
}

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL:    "https://project.supabase.co",
		AnonKey:    "anon-key",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestNewClientRequiresAnonKey(t *testing.T) {
	if _, err := NewClient(Options{BaseURL: "https://project.supabase.co"}); !errors.Is(err, ErrMissingAnonKey) {
		t.Fatalf("expected ErrMissingAnonKey, got %v", err)
	}
}

func TestSignInWithMagicLinkPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/auth/v1/otp", http.StatusOK, map[string]any{})

	err := client.SignInWithMagicLink(context.Background(), " user@example.com ", "http://localhost:8917/auth/callback")
	if err != nil {
		t.Fatalf("SignInWithMagicLink: %v", err)
	}
	var sent otpRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent.Email != "user@example.com" {
		t.Fatalf("email = %q, want trimmed address", sent.Email)
	}
	if !sent.CreateUser {
		t.Fatal("create_user should be set so first-time users get accounts")
	}
	if got := transport.lastReq.URL.Query().Get("redirect_to"); got != "http://localhost:8917/auth/callback" {
		t.Fatalf("redirect_to = %q", got)
	}
	if got := transport.lastReq.Header.Get("apikey"); got != "anon-key" {
		t.Fatalf("apikey header = %q", got)
	}
}

func TestSignInWithMagicLinkRejectsBadEmail(t *testing.T) {
	client := newTestClient(t, &captureTransport{responses: map[string]responseStub{}})
	err := client.SignInWithMagicLink(context.Background(), "not-an-email", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOAuthURL(t *testing.T) {
	client := newTestClient(t, &captureTransport{responses: map[string]responseStub{}})
	got := client.OAuthURL("google", "http://localhost:8917/auth/callback")
	if !strings.HasPrefix(got, "https://project.supabase.co/auth/v1/authorize?") {
		t.Fatalf("unexpected url %q", got)
	}
	if !strings.Contains(got, "provider=google") {
		t.Fatalf("url missing provider: %q", got)
	}
}

func TestRefreshSession(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)

	exp := time.Now().Add(time.Hour).Unix()
	access := signedToken(t, jwt.MapClaims{"sub": "user-1", "email": "user@example.com", "exp": exp})
	transport.setJSONResponse("/auth/v1/token", http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": "refresh-2",
		"expires_in":    3600,
	})

	sess, err := client.RefreshSession(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if !sess.Authenticated() {
		t.Fatal("refreshed session must be authenticated")
	}
	if sess.UserID != "user-1" || sess.Email != "user@example.com" {
		t.Fatalf("claims not applied: %+v", sess)
	}
	if sess.RefreshToken != "refresh-2" {
		t.Fatalf("RefreshToken = %q, want rotated token", sess.RefreshToken)
	}
	if sess.ExpiresAt.Unix() != exp {
		t.Fatalf("ExpiresAt = %v, want claim exp", sess.ExpiresAt)
	}
}

func TestRefreshSessionMapsRejectionToAuthError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/auth/v1/token", http.StatusUnauthorized, map[string]any{
		"error_description": "Invalid Refresh Token",
	})

	_, err := client.RefreshSession(context.Background(), "stale")
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestRefreshSessionMapsOutageToServerError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/auth/v1/token", http.StatusBadGateway, map[string]any{"msg": "upstream down"})

	_, err := client.RefreshSession(context.Background(), "refresh-1")
	if !errors.Is(err, domain.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
}

func TestSessionFromTokensWithGarbageToken(t *testing.T) {
	sess := SessionFromTokens("not.a.jwt", "refresh")
	if sess.AccessToken != "not.a.jwt" || sess.RefreshToken != "refresh" {
		t.Fatalf("tokens must be kept verbatim: %+v", sess)
	}
	if sess.UserID != "" || !sess.ExpiresAt.IsZero() {
		t.Fatalf("claims should stay zero for undecodable token: %+v", sess)
	}
}
