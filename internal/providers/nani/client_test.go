package nani

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"nani/internal/domain"
)

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
	lastReq   *http.Request
	err       error
}

type responseStub struct {
	status int
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
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
		stub = responseStub{status: http.StatusNotFound, body: []byte(`{}`)}
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
		APISecret:  "shared-secret",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresAPISecret(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPISecret) {
		t.Fatalf("expected ErrMissingAPISecret, got %v", err)
	}
}

func TestAskPayloadAndHeaders(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/fetch_naturopathy_results", http.StatusOK, map[string]any{
		"summary": "Drink tulsi tea.",
	})

	history := []domain.Turn{
		{Role: domain.TurnUser, Content: "hello"},
		{Role: domain.TurnAssistant, Content: "hi there"},
	}
	summary, err := client.Ask(context.Background(), "tok-1", "remedy for cold?", history)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if summary != "Drink tulsi tea." {
		t.Fatalf("summary = %q", summary)
	}

	var sent fetchRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent.Query != "remedy for cold?" {
		t.Fatalf("query = %q", sent.Query)
	}
	if sent.MatchThreshold != 0.4 || sent.MatchCount != 3 {
		t.Fatalf("retrieval params = %v/%d, want 0.4/3", sent.MatchThreshold, sent.MatchCount)
	}
	if len(sent.History) != 2 || sent.History[0].Content != "hello" {
		t.Fatalf("history not passed through: %+v", sent.History)
	}
	if got := transport.lastReq.Header.Get("X-API-KEY"); got != "shared-secret" {
		t.Fatalf("X-API-KEY = %q", got)
	}
	if got := transport.lastReq.Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Fatalf("Authorization = %q", got)
	}
	if transport.lastReq.Header.Get("X-Request-ID") == "" {
		t.Fatal("requests must carry an X-Request-ID")
	}
}

func TestAskNilHistoryEncodesAsEmptyArray(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/fetch_naturopathy_results", http.StatusOK, map[string]any{"summary": "ok"})

	if _, err := client.Ask(context.Background(), "tok", "q", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !bytes.Contains(transport.lastBody, []byte(`"history":[]`)) {
		t.Fatalf("nil history should encode as [], got %s", transport.lastBody)
	}
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	client := newTestClient(t, &captureTransport{responses: map[string]responseStub{}})
	if _, err := client.Ask(context.Background(), "tok", "   ", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   map[string]any
		want   error
	}{
		{"rejected token", http.StatusUnauthorized, map[string]any{}, domain.ErrAuth},
		{"backend down", http.StatusBadGateway, map[string]any{}, domain.ErrServer},
		{"error payload", http.StatusOK, map[string]any{"error": "no matches"}, domain.ErrServer},
		{"empty summary", http.StatusOK, map[string]any{}, domain.ErrServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}}
			client := newTestClient(t, transport)
			transport.setJSONResponse("/fetch_naturopathy_results", tc.status, tc.body)

			_, err := client.Ask(context.Background(), "tok", "q", nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAskTransportFailureIsNetworkError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}, err: errors.New("connection refused")}
	client := newTestClient(t, transport)

	_, err := client.Ask(context.Background(), "tok", "q", nil)
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestAuthStatus(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/auth/status", http.StatusOK, map[string]any{
		"role":         "trial",
		"trial_active": true,
		"days_left":    3,
		"subscribed":   false,
	})

	ent, err := client.AuthStatus(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("AuthStatus: %v", err)
	}
	if ent.Role != domain.RoleTrial || !ent.TrialActive || ent.DaysLeft != 3 || ent.Subscribed {
		t.Fatalf("entitlement mismatch: %+v", ent)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/create_checkout_session", http.StatusOK, map[string]any{
		"checkout_url": "https://checkout.stripe.com/pay/cs_123",
	})

	url, err := client.CreateCheckoutSession(context.Background(), "price_1", "user@example.com", "user-1")
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if url != "https://checkout.stripe.com/pay/cs_123" {
		t.Fatalf("url = %q", url)
	}
	var sent checkoutRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent.PriceID != "price_1" || sent.Email != "user@example.com" || sent.UserID != "user-1" {
		t.Fatalf("checkout payload mismatch: %+v", sent)
	}
}

func TestCreateCustomerPortalMissingURL(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/create_customer_portal", http.StatusOK, map[string]any{})

	if _, err := client.CreateCustomerPortal(context.Background(), "user-1"); !errors.Is(err, domain.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
}
