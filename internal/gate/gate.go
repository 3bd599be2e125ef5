// Package gate owns the client's session and entitlement state. It decides
// at any moment whether the chat surface is usable, what credentials to
// attach to outbound requests, and what conversational context to send.
// The renderer and the transport only ever see snapshots; all mutable
// state lives here.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nani/internal/domain"
	"nani/internal/infra"
	"nani/internal/store"
)

// Authenticator is the slice of the auth provider the gate needs.
type Authenticator interface {
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Backend is the slice of the hosted back end the gate needs.
type Backend interface {
	AuthStatus(ctx context.Context, accessToken string) (domain.Entitlement, error)
	Ask(ctx context.Context, accessToken, query string, history []domain.Turn) (string, error)
}

// StateStore persists credentials and the transcript between runs. It is
// optional; a nil store gives a purely in-memory session.
type StateStore interface {
	SaveCredentials(ctx context.Context, creds store.Credentials) error
	Credentials(ctx context.Context) (*store.Credentials, error)
	ClearCredentials(ctx context.Context) error
	AppendTranscript(ctx context.Context, entry store.TranscriptEntry) error
	ClearTranscript(ctx context.Context) error
}

type authState int

const (
	authUnauthenticated authState = iota
	authAuthenticating
	authAuthenticated
)

type entitlementState int

const (
	entitlementUnknown entitlementState = iota
	entitlementFetching
	entitlementKnown
)

// State is the read-only snapshot handed to the renderer.
type State struct {
	Authenticated    bool
	Authenticating   bool
	Email            string
	Pending          bool
	EntitlementKnown bool
	Entitlement      domain.Entitlement
	CanSend          bool
	UpgradeBanner    bool
	HardGate         bool
}

// RequestContext is what one outbound query needs: the bearer token, the
// query itself, and a history snapshot.
type RequestContext struct {
	Query   string
	History []domain.Turn
	Token   string
}

// Options configures a Gate.
type Options struct {
	Auth    Authenticator
	Backend Backend
	Store   StateStore
	Logger  *infra.Logger

	// HistoryCap bounds the conversation buffer; defaults to 8.
	HistoryCap int
	// FailOpen permits queries while the entitlement is still unknown.
	// Off by default: the gate fails closed until the fetch completes.
	FailOpen bool
	// SendRetries is how many immediate retries a query gets after a
	// network failure. Defaults to 1; auth failures are never retried.
	SendRetries int
	// OnChange, when set, is invoked with a fresh snapshot after every
	// state transition.
	OnChange func(State)
}

// Gate is the session/entitlement state machine. Construct one per run
// with New and hand it to the renderer and command loop by reference.
type Gate struct {
	auth    Authenticator
	backend Backend
	store   StateStore
	logger  *infra.Logger

	failOpen bool
	retries  int
	onChange func(State)

	mu            sync.Mutex
	session       *domain.Session
	authState     authState
	entState      entitlementState
	ent           *domain.Entitlement
	epoch         uint64
	pending       bool
	cancelPending context.CancelFunc
	buf           *conversationBuffer

	events chan *domain.Session
}

// New constructs a Gate. Auth and Backend are required.
func New(opts Options) (*Gate, error) {
	if opts.Auth == nil {
		return nil, errors.New("gate: authenticator is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("gate: backend is required")
	}
	limit := opts.HistoryCap
	if limit <= 0 {
		limit = 8
	}
	retries := opts.SendRetries
	if retries < 0 {
		retries = 0
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Gate{
		auth:     opts.Auth,
		backend:  opts.Backend,
		store:    opts.Store,
		logger:   logger,
		failOpen: opts.FailOpen,
		retries:  retries,
		onChange: opts.OnChange,
		buf:      newConversationBuffer(limit),
		events:   make(chan *domain.Session, 16),
	}, nil
}

// Start launches the auth-state dispatch loop. Notifications queued via
// OnAuthStateChanged are applied one at a time, in delivery order, until
// ctx is cancelled.
func (g *Gate) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sess := <-g.events:
				g.apply(ctx, sess)
			}
		}
	}()
}

// OnAuthStateChanged queues an auth-state notification. The channel is a
// single-consumer queue; when it overflows, the oldest queued notification
// is superseded so the newest state always lands.
func (g *Gate) OnAuthStateChanged(sess *domain.Session) {
	for {
		select {
		case g.events <- sess:
			return
		default:
		}
		select {
		case <-g.events:
		default:
		}
	}
}

// RestoreSession loads the cached token pair and exchanges it for a fresh
// session. No cached session yields (nil, nil); a rejected refresh token
// clears the cache and also yields (nil, nil) — only transport failures
// surface as errors, so "logged out" is never conflated with "offline".
func (g *Gate) RestoreSession(ctx context.Context) (*domain.Session, error) {
	if g.store == nil {
		return nil, nil
	}
	creds, err := g.store.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("gate: read cached credentials: %w", err)
	}
	if creds == nil || creds.RefreshToken == "" {
		return nil, nil
	}
	sess, err := g.auth.RefreshSession(ctx, creds.RefreshToken)
	if err != nil {
		if domain.Classify(err) == domain.KindAuth {
			g.logger.Info().Msg("cached session no longer valid, sign-in required")
			if clearErr := g.store.ClearCredentials(ctx); clearErr != nil {
				g.logger.Warn().Err(clearErr).Msg("failed to clear stale credentials")
			}
			return nil, nil
		}
		return nil, err
	}
	g.OnAuthStateChanged(sess)
	return sess, nil
}

// BeginSignIn marks the gate as authenticating while a magic-link or OAuth
// flow is pending in the browser. A no-op when already authenticated.
func (g *Gate) BeginSignIn() {
	g.mu.Lock()
	if g.authState == authUnauthenticated {
		g.authState = authAuthenticating
	}
	g.mu.Unlock()
	g.notifyChange()
}

// apply processes one auth-state notification.
func (g *Gate) apply(ctx context.Context, sess *domain.Session) {
	if !sess.Authenticated() {
		g.mu.Lock()
		if g.authState == authUnauthenticated {
			// Nothing to do; repeated sign-out notifications are no-ops.
			g.mu.Unlock()
			return
		}
		g.resetLocked()
		g.mu.Unlock()
		g.clearStore(ctx)
		g.notifyChange()
		return
	}

	g.mu.Lock()
	if g.authState == authAuthenticated && g.session != nil && g.session.AccessToken == sess.AccessToken {
		// Redelivery of the session we already hold.
		g.mu.Unlock()
		return
	}
	g.session = sess
	g.authState = authAuthenticated
	g.epoch++
	epoch := g.epoch
	token := sess.AccessToken
	g.entState = entitlementFetching
	g.mu.Unlock()

	g.persistCredentials(ctx, sess)
	g.notifyChange()
	go func() {
		ent, err := g.backend.AuthStatus(ctx, token)
		g.applyEntitlement(ctx, epoch, ent, err)
	}()
}

// RefreshEntitlement fetches the entitlement for the current session and
// applies it, for on-demand refreshes such as opening the account view.
func (g *Gate) RefreshEntitlement(ctx context.Context) (domain.Entitlement, error) {
	g.mu.Lock()
	if !g.session.Authenticated() {
		g.mu.Unlock()
		return domain.Entitlement{}, fmt.Errorf("%w: not signed in", domain.ErrAuth)
	}
	token := g.session.AccessToken
	epoch := g.epoch
	g.entState = entitlementFetching
	g.mu.Unlock()

	ent, err := g.backend.AuthStatus(ctx, token)
	g.applyEntitlement(ctx, epoch, ent, err)
	if err != nil {
		return domain.Entitlement{}, err
	}
	return ent, nil
}

// applyEntitlement commits a fetch result unless the session it was issued
// for has been superseded. Transient failures keep the previous Known
// entitlement so a back-end hiccup does not revoke access already
// confirmed this run; a rejected token forces re-authentication.
func (g *Gate) applyEntitlement(ctx context.Context, epoch uint64, ent domain.Entitlement, err error) {
	g.mu.Lock()
	if epoch != g.epoch || g.authState != authAuthenticated {
		g.mu.Unlock()
		g.logger.Debug().Msg("discarding entitlement fetch for superseded session")
		return
	}
	if err != nil {
		if domain.Classify(err) == domain.KindAuth {
			g.logger.Warn().Err(err).Msg("token rejected by entitlement endpoint")
			g.resetLocked()
			g.mu.Unlock()
			g.clearStore(ctx)
			g.notifyChange()
			return
		}
		if g.ent != nil {
			g.entState = entitlementKnown
		} else {
			g.entState = entitlementUnknown
		}
		g.mu.Unlock()
		g.logger.Warn().Err(err).Msg("entitlement fetch failed, keeping last known state")
		g.notifyChange()
		return
	}
	g.ent = &ent
	g.entState = entitlementKnown
	g.mu.Unlock()
	g.notifyChange()
}

// CanSendQuery reports whether a query may be sent right now. While the
// entitlement is unknown the gate fails closed unless configured otherwise.
func (g *Gate) CanSendQuery() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canSendLocked()
}

func (g *Gate) canSendLocked() bool {
	if g.authState != authAuthenticated || !g.session.Authenticated() {
		return false
	}
	if g.entState != entitlementKnown {
		return g.failOpen
	}
	return g.ent.ChatAllowed()
}

// BuildRequestContext validates the query and assembles what the transport
// needs: token, query, and a history snapshot.
func (g *Gate) BuildRequestContext(query string) (RequestContext, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return RequestContext{}, fmt.Errorf("%w: query is empty", domain.ErrValidation)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.session.Authenticated() {
		return RequestContext{}, fmt.Errorf("%w: not signed in", domain.ErrAuth)
	}
	return RequestContext{
		Query:   query,
		History: g.buf.snapshot(),
		Token:   g.session.AccessToken,
	}, nil
}

// SendQuery performs one full round trip: guard, send with bounded retry,
// and commit the turn to history only after success. At most one query is
// in flight; a second send while one is pending is rejected.
func (g *Gate) SendQuery(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: query is empty", domain.ErrValidation)
	}

	g.mu.Lock()
	if g.pending {
		g.mu.Unlock()
		return "", fmt.Errorf("%w: a query is already pending", domain.ErrValidation)
	}
	if g.authState != authAuthenticated || !g.session.Authenticated() {
		g.mu.Unlock()
		return "", fmt.Errorf("%w: sign in to chat", domain.ErrAuth)
	}
	if !g.canSendLocked() {
		known := g.entState == entitlementKnown
		g.mu.Unlock()
		if !known {
			return "", fmt.Errorf("%w: still checking your plan, try again in a moment", domain.ErrGated)
		}
		return "", fmt.Errorf("%w: trial expired, subscription required", domain.ErrGated)
	}
	token := g.session.AccessToken
	history := g.buf.snapshot()
	queryCtx, cancel := context.WithCancel(ctx)
	g.pending = true
	g.cancelPending = cancel
	g.mu.Unlock()
	g.notifyChange()
	defer cancel()

	start := time.Now()
	summary, err := g.askWithRetry(queryCtx, token, query, history)
	latency := time.Since(start)

	g.mu.Lock()
	g.pending = false
	g.cancelPending = nil
	if queryCtx.Err() != nil {
		// Interest in this response was cancelled (sign-out, shutdown);
		// a late answer must not be shown or recorded.
		g.mu.Unlock()
		g.notifyChange()
		return "", queryCtx.Err()
	}
	if err != nil {
		authFailed := domain.Classify(err) == domain.KindAuth
		if authFailed {
			g.resetLocked()
		}
		g.mu.Unlock()
		if authFailed {
			g.clearStore(ctx)
		}
		g.notifyChange()
		return "", err
	}
	g.recordTurnLocked(query, summary)
	g.mu.Unlock()
	g.notifyChange()

	g.persistTurns(ctx, query, summary, latency)
	g.logger.Debug().Dur("latency", latency).Msg("query round trip complete")
	return summary, nil
}

// askWithRetry retries network failures only, immediately and a bounded
// number of times. Server and auth failures surface after one attempt.
func (g *Gate) askWithRetry(ctx context.Context, token, query string, history []domain.Turn) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		summary, err := g.backend.Ask(ctx, token, query, history)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		if domain.Classify(err) != domain.KindNetwork {
			break
		}
		if attempt < g.retries {
			g.logger.Warn().Err(err).Msg("query hit a network failure, retrying")
		}
	}
	return "", lastErr
}

// RecordTurn appends a completed round trip to the conversation buffer.
// Callers must only invoke it after a successful response; SendQuery does
// this itself.
func (g *Gate) RecordTurn(query, response string) {
	g.mu.Lock()
	g.recordTurnLocked(query, response)
	g.mu.Unlock()
	g.notifyChange()
}

func (g *Gate) recordTurnLocked(query, response string) {
	g.buf.append(domain.Turn{Role: domain.TurnUser, Content: query})
	g.buf.append(domain.Turn{Role: domain.TurnAssistant, Content: response})
}

// History returns a copy of the current conversation buffer.
func (g *Gate) History() []domain.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.snapshot()
}

// ClearHistory empties the conversation buffer without touching the session.
func (g *Gate) ClearHistory() {
	g.mu.Lock()
	g.buf.reset()
	g.mu.Unlock()
	g.notifyChange()
}

// Session returns the current session, or nil when unauthenticated.
func (g *Gate) Session() *domain.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// SignOut revokes the session with the provider on a best-effort basis and
// unconditionally clears all local state. Sign-out is a local guarantee: it
// succeeds even when the provider call does not.
func (g *Gate) SignOut(ctx context.Context) {
	g.mu.Lock()
	var token string
	if g.session != nil {
		token = g.session.AccessToken
	}
	g.mu.Unlock()

	if token != "" {
		revokeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := g.auth.SignOut(revokeCtx, token); err != nil {
			g.logger.Warn().Err(err).Msg("provider sign-out failed, clearing local state anyway")
		}
		cancel()
	}

	g.mu.Lock()
	g.resetLocked()
	g.mu.Unlock()
	g.clearStore(ctx)
	g.notifyChange()
}

// resetLocked transitions to fully unauthenticated: cleared token, cleared
// entitlement, cleared buffer, and any in-flight work invalidated.
func (g *Gate) resetLocked() {
	if g.cancelPending != nil {
		g.cancelPending()
		g.cancelPending = nil
	}
	g.session = nil
	g.ent = nil
	g.authState = authUnauthenticated
	g.entState = entitlementUnknown
	g.epoch++
	g.buf.reset()
}

// State returns a snapshot for the renderer.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := State{
		Authenticated:  g.authState == authAuthenticated,
		Authenticating: g.authState == authAuthenticating,
		Pending:        g.pending,
		CanSend:        g.canSendLocked(),
	}
	if g.session != nil {
		st.Email = g.session.Email
	}
	if g.entState == entitlementKnown && g.ent != nil {
		st.EntitlementKnown = true
		st.Entitlement = *g.ent
		st.UpgradeBanner = g.ent.UpgradeBanner()
		st.HardGate = g.ent.HardGate()
	}
	return st
}

func (g *Gate) notifyChange() {
	if g.onChange == nil {
		return
	}
	g.onChange(g.State())
}

func (g *Gate) persistCredentials(ctx context.Context, sess *domain.Session) {
	if g.store == nil {
		return
	}
	creds := store.Credentials{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Email:        sess.Email,
	}
	if err := g.store.SaveCredentials(ctx, creds); err != nil {
		g.logger.Warn().Err(err).Msg("failed to cache credentials")
	}
}

func (g *Gate) persistTurns(ctx context.Context, query, response string, latency time.Duration) {
	if g.store == nil {
		return
	}
	now := time.Now()
	entries := []store.TranscriptEntry{
		{Role: domain.TurnUser, Content: query, CreatedAt: now},
		{Role: domain.TurnAssistant, Content: response, LatencyMS: latency.Milliseconds(), CreatedAt: now},
	}
	for _, entry := range entries {
		if err := g.store.AppendTranscript(ctx, entry); err != nil {
			g.logger.Warn().Err(err).Msg("failed to persist transcript entry")
			return
		}
	}
}

func (g *Gate) clearStore(ctx context.Context) {
	if g.store == nil {
		return
	}
	if err := g.store.ClearCredentials(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("failed to clear cached credentials")
	}
	if err := g.store.ClearTranscript(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("failed to clear transcript")
	}
}
