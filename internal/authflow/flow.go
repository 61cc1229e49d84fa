// Package authflow drives the OAuth2 authorization-code exchange for
// each provider: a single-shot loopback redirect listener, the code
// exchange, and transparent refresh of expired access tokens. One flow
// may be in progress per provider at a time.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/config"
	"github.com/techcodex/codexcloud/internal/credstore"
	"github.com/techcodex/codexcloud/internal/logsink"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrAuthTimeout    = errors.New("authflow: no redirect received before timeout")
	ErrStateMismatch  = errors.New("authflow: state parameter mismatch")
	ErrTokenExchange  = errors.New("authflow: token exchange failed")
	ErrFlowInProgress = errors.New("authflow: flow already in progress for provider")

	// ErrReauthRequired means the refresh token was rejected; the user
	// must run the interactive flow again.
	ErrReauthRequired = errors.New("authflow: re-authentication required")
)

// State of a provider's auth session.
type State int

const (
	StateIdle State = iota
	StateAwaitingRedirect
	StateExchangingCode
	StateAuthenticated
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRedirect:
		return "awaiting-redirect"
	case StateExchangingCode:
		return "exchanging-code"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FlowTimeout bounds how long the redirect listener waits for the
// browser to come back.
const FlowTimeout = 120 * time.Second

// stateTokenBytes is the number of random bytes in the state nonce.
const stateTokenBytes = 16

// callbackResult carries the authorization code or error from the
// callback handler.
type callbackResult struct {
	code string
	err  error
}

// Controller runs interactive auth flows and tracks per-provider
// session state. Safe for concurrent use.
type Controller struct {
	store    *credstore.Store
	cfg      *config.Config
	recorder logsink.Recorder
	logger   *slog.Logger

	// openURL launches the system browser. Injected so tests can
	// drive the redirect themselves.
	openURL func(string) error

	// timeout for the redirect wait. Defaults to FlowTimeout.
	timeout time.Duration

	// endpointFn resolves a provider's OAuth2 endpoint pair.
	// Tests inject a mock endpoint here.
	endpointFn func(name cloud.Name, tenant string) oauth2.Endpoint

	mu     sync.Mutex
	states map[cloud.Name]State
}

// NewController creates a Controller. openURL may be nil when the
// caller never runs an interactive flow (PAT login only).
func NewController(
	store *credstore.Store,
	cfg *config.Config,
	openURL func(string) error,
	recorder logsink.Recorder,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	if recorder == nil {
		recorder = logsink.Noop{}
	}

	return &Controller{
		store:      store,
		cfg:        cfg,
		recorder:   recorder,
		logger:     logger,
		openURL:    openURL,
		timeout:    FlowTimeout,
		endpointFn: endpointFor,
		states:     make(map[cloud.Name]State),
	}
}

// SessionState returns the provider's current session state.
func (c *Controller) SessionState(name cloud.Name) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.states[name]
}

func (c *Controller) setState(name cloud.Name, s State) {
	c.mu.Lock()
	c.states[name] = s
	c.mu.Unlock()
}

// beginGuard atomically checks and claims the provider's flow slot.
func (c *Controller) beginGuard(name cloud.Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.states[name] {
	case StateAwaitingRedirect, StateExchangingCode:
		return fmt.Errorf("%w: %s", ErrFlowInProgress, name)
	}

	c.states[name] = StateAwaitingRedirect

	return nil
}

// Begin runs the full authorization-code flow for the provider:
//  1. Builds the authorization URL with client_id, the loopback
//     redirect_uri, scope, response_type=code, and a state nonce
//  2. Opens it via the system browser
//  3. Waits (bounded by the flow timeout) for exactly one matching
//     redirect on the local listener
//  4. Exchanges the code at the token endpoint and persists the
//     resulting credential
//
// The listener is torn down on every exit path — no lingering bound
// sockets. A second Begin for a provider already mid-flow fails fast
// with ErrFlowInProgress.
func (c *Controller) Begin(ctx context.Context, name cloud.Name) (*credstore.Credential, error) {
	if err := c.beginGuard(name); err != nil {
		return nil, err
	}

	cred, err := c.runFlow(ctx, name)
	if err != nil {
		c.setState(name, StateFailed)
		c.report(name, "auth flow failed: "+err.Error())

		return nil, err
	}

	c.setState(name, StateAuthenticated)

	return cred, nil
}

func (c *Controller) runFlow(ctx context.Context, name cloud.Name) (*credstore.Credential, error) {
	pc := c.cfg.Provider(name)
	if pc.ClientID == "" {
		return nil, fmt.Errorf("authflow: %s: no client_id configured", name)
	}

	oc := &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Scopes:       pc.Scopes,
		Endpoint:     c.endpointFn(name, pc.Tenant),
		RedirectURL:  fmt.Sprintf("http://localhost:%d%s", c.cfg.RedirectPort, config.DefaultCallbackPath),
	}

	c.logger.Info("starting auth flow",
		slog.String("provider", string(name)),
		slog.String("redirect_url", oc.RedirectURL),
	)

	// Bind the fixed loopback port before opening the browser so the
	// redirect cannot race the listener.
	resultCh := make(chan callbackResult, 1)

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("authflow: generating state nonce: %w", err)
	}

	srv, err := c.startListener(ctx, state, resultCh)
	if err != nil {
		return nil, err
	}

	defer c.shutdownListener(srv)

	verifier := oauth2.GenerateVerifier()
	authURL := oc.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	c.launchBrowser(authURL)

	code, err := c.waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	c.setState(name, StateExchangingCode)

	tok, err := oc.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTokenExchange, name, err)
	}

	c.logger.Info("token exchange successful",
		slog.String("provider", string(name)),
		slog.Time("expiry", tok.Expiry),
	)

	cred := &credstore.Credential{
		Provider:     name,
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Scopes:       pc.Scopes,
		Tenant:       pc.Tenant,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	if err := c.store.Save(cred); err != nil {
		return nil, fmt.Errorf("authflow: persisting credential: %w", err)
	}

	return cred, nil
}

// LoginPAT stores a personal access token as a non-expiring credential,
// bypassing the interactive flow. GitHub issues these in lieu of
// interactive login.
func (c *Controller) LoginPAT(name cloud.Name, token string) (*credstore.Credential, error) {
	if token == "" {
		return nil, fmt.Errorf("authflow: %s: empty token", name)
	}

	pc := c.cfg.Provider(name)

	cred := &credstore.Credential{
		Provider:     name,
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Scopes:       pc.Scopes,
		AccessToken:  token,
	}

	if err := c.store.Save(cred); err != nil {
		return nil, fmt.Errorf("authflow: persisting credential: %w", err)
	}

	c.setState(name, StateAuthenticated)
	c.logger.Info("token login successful", slog.String("provider", string(name)))

	return cred, nil
}

// Logout clears the provider's persisted credential and resets its
// session to idle.
func (c *Controller) Logout(name cloud.Name) error {
	if err := c.store.Clear(name); err != nil {
		return err
	}

	c.setState(name, StateIdle)

	return nil
}

// startListener binds the configured loopback port and serves exactly
// one callback request.
func (c *Controller) startListener(ctx context.Context, state string, resultCh chan callbackResult) (*http.Server, error) {
	lc := net.ListenConfig{}

	addr := fmt.Sprintf("127.0.0.1:%d", c.cfg.RedirectPort)

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("authflow: binding %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+config.DefaultCallbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleCallback(w, r, state, resultCh)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("authflow: callback server error: %w", serveErr)}
		}
	}()

	c.logger.Debug("callback listener bound", slog.String("addr", addr))

	return srv, nil
}

// handleCallback validates the state nonce, extracts the code, and
// delivers the result. The nonce binds the redirect to this flow
// instance, preventing cross-session code injection.
func handleCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: ErrStateMismatch}

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("%w: %s: %s", ErrTokenExchange, errParam, desc)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("%w: callback missing code", ErrStateMismatch)}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the application.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

// shutdownListener releases the port. Best-effort — we're in a defer.
func (c *Controller) shutdownListener(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("callback listener shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser opens the auth URL, logging the URL at debug level on
// failure so the user can open it manually. The URL carries no secrets.
func (c *Controller) launchBrowser(authURL string) {
	if c.openURL == nil {
		return
	}

	if err := c.openURL(authURL); err != nil {
		c.logger.Warn("failed to open browser",
			slog.String("error", err.Error()),
			slog.String("auth_url", authURL),
		)
	}
}

// waitForCallback blocks until the callback fires, the flow times out,
// or the context is canceled.
func (c *Controller) waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-timer.C:
		return "", ErrAuthTimeout
	case <-ctx.Done():
		return "", fmt.Errorf("authflow: flow canceled: %w", ctx.Err())
	}
}

// report journals an auth event. Never includes tokens.
func (c *Controller) report(name cloud.Name, msg string) {
	if err := c.recorder.Record(context.Background(), logsink.CategoryAuth, string(name), msg); err != nil {
		c.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

// generateState produces a cryptographically random hex nonce for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
