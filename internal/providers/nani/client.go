package nani

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nani/internal/domain"
	"nani/internal/infra"
)

// ErrMissingAPISecret indicates that the client was configured without the
// shared secret the back end requires on every call.
var ErrMissingAPISecret = errors.New("nani: api secret is required")

// Retrieval parameters the widget has always sent with each query.
const (
	matchThreshold = 0.4
	matchCount     = 3
)

// Options configures the naturopathy back-end client.
type Options struct {
	BaseURL        string
	APISecret      string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the hosted entitlement, inference and
// billing endpoints.
type Client struct {
	baseURL    string
	apiSecret  string
	httpClient *http.Client
	logger     *infra.Logger
}

type fetchRequest struct {
	Query          string        `json:"query"`
	MatchThreshold float64       `json:"match_threshold"`
	MatchCount     int           `json:"match_count"`
	History        []domain.Turn `json:"history"`
}

type fetchResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error"`
}

type checkoutRequest struct {
	PriceID string `json:"price_id"`
	Email   string `json:"email"`
	UserID  string `json:"user_id"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	Error       string `json:"error"`
}

type portalRequest struct {
	UserID string `json:"user_id"`
}

type portalResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APISecret) == "" {
		return nil, ErrMissingAPISecret
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://naturopathy.onrender.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
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
		apiSecret:  strings.TrimSpace(opts.APISecret),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// AuthStatus fetches the entitlement record behind the bearer token.
func (c *Client) AuthStatus(ctx context.Context, accessToken string) (domain.Entitlement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/status", nil)
	if err != nil {
		return domain.Entitlement{}, fmt.Errorf("nani: build request: %w", err)
	}
	c.setHeaders(req, accessToken)
	var decoded domain.Entitlement
	if err := c.do(req, &decoded); err != nil {
		return domain.Entitlement{}, err
	}
	return decoded, nil
}

// Ask submits one query with the caller's history snapshot and returns the
// assistant's summary. The history is request context only; the caller owns
// when and whether it grows.
func (c *Client) Ask(ctx context.Context, accessToken, query string, history []domain.Turn) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: query is empty", domain.ErrValidation)
	}
	if history == nil {
		history = []domain.Turn{}
	}
	payload := fetchRequest{
		Query:          query,
		MatchThreshold: matchThreshold,
		MatchCount:     matchCount,
		History:        history,
	}
	var decoded fetchResponse
	if err := c.post(ctx, "/fetch_naturopathy_results", accessToken, payload, &decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("%w: nani: %s", domain.ErrServer, decoded.Error)
	}
	if decoded.Summary == "" {
		return "", fmt.Errorf("%w: nani: response missing summary", domain.ErrServer)
	}
	return decoded.Summary, nil
}

// CreateCheckoutSession asks the back end for a hosted checkout URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, priceID, email, userID string) (string, error) {
	if strings.TrimSpace(priceID) == "" {
		return "", fmt.Errorf("%w: price id is required", domain.ErrValidation)
	}
	var decoded checkoutResponse
	payload := checkoutRequest{PriceID: priceID, Email: email, UserID: userID}
	if err := c.post(ctx, "/create_checkout_session", "", payload, &decoded); err != nil {
		return "", err
	}
	if decoded.CheckoutURL == "" {
		if decoded.Error != "" {
			return "", fmt.Errorf("%w: nani: %s", domain.ErrServer, decoded.Error)
		}
		return "", fmt.Errorf("%w: nani: response missing checkout_url", domain.ErrServer)
	}
	return decoded.CheckoutURL, nil
}

// CreateCustomerPortal asks the back end for the billing portal URL.
func (c *Client) CreateCustomerPortal(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	var decoded portalResponse
	if err := c.post(ctx, "/create_customer_portal", "", portalRequest{UserID: userID}, &decoded); err != nil {
		return "", err
	}
	if decoded.URL == "" {
		if decoded.Error != "" {
			return "", fmt.Errorf("%w: nani: %s", domain.ErrServer, decoded.Error)
		}
		return "", fmt.Errorf("%w: nani: response missing url", domain.ErrServer)
	}
	return decoded.URL, nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("nani: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("nani: build request: %w", err)
	}
	c.setHeaders(req, accessToken)
	return c.do(req, out)
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiSecret)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: nani: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: nani: read response: %v", domain.ErrNetwork, err)
	}
	c.logger.Debug().
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("nani request")

	if resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: nani: %s", domain.ErrAuth, detail)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: nani: status %d: %s", domain.ErrServer, resp.StatusCode, detail)
		default:
			return fmt.Errorf("%w: nani: status %d: %s", domain.ErrValidation, resp.StatusCode, detail)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: nani: decode response: %v", domain.ErrServer, err)
	}
	return nil
}
