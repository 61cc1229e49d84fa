package authflow

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/config"
	"github.com/techcodex/codexcloud/internal/credstore"
)

// freePort asks the kernel for an unused loopback port.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(port int) *config.Config {
	return &config.Config{
		RedirectPort: port,
		OneDrive: config.ProviderConfig{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			Scopes:       []string{"Files.ReadWrite.All", "offline_access"},
		},
		GitHub: config.ProviderConfig{
			ClientID: "gh-client",
			Scopes:   []string{"repo"},
		},
	}
}

func newTestController(t *testing.T, cfg *config.Config, openURL func(string) error) (*Controller, *credstore.Store) {
	t.Helper()

	store, err := credstore.Open(t.TempDir(), nil, nil, nil)
	require.NoError(t, err)

	return NewController(store, cfg, openURL, nil, nil), store
}

// fetchRedirect drives the browser's role: follow the auth URL's
// redirect_uri back to the loopback listener with the given params.
func fetchRedirect(t *testing.T, authURL string, override url.Values) {
	t.Helper()

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	q := parsed.Query()

	redirect, err := url.Parse(q.Get("redirect_uri"))
	require.NoError(t, err)

	params := url.Values{}
	params.Set("state", q.Get("state"))

	for k, vs := range override {
		params[k] = vs
	}

	redirect.RawQuery = params.Encode()

	resp, err := http.Get(redirect.String())
	require.NoError(t, err)
	resp.Body.Close()
}

func TestBegin_SuccessfulFlow(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "auth-code-1", r.Form.Get("code"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	openURL := func(authURL string) error {
		go fetchRedirect(t, authURL, url.Values{"code": {"auth-code-1"}})
		return nil
	}

	ctrl, store := newTestController(t, testConfig(freePort(t)), openURL)
	ctrl.endpointFn = func(cloud.Name, string) oauth2.Endpoint {
		return oauth2.Endpoint{AuthURL: tokenSrv.URL + "/authorize", TokenURL: tokenSrv.URL + "/token"}
	}

	cred, err := ctrl.Begin(t.Context(), cloud.OneDrive)
	require.NoError(t, err)

	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, StateAuthenticated, ctrl.SessionState(cloud.OneDrive))

	// The credential must be persisted, not just returned.
	saved, err := store.Load(cloud.OneDrive)
	require.NoError(t, err)
	assert.Equal(t, "at-1", saved.AccessToken)
}

func TestBegin_TimeoutReleasesPort(t *testing.T) {
	port := freePort(t)

	// Browser never comes back.
	ctrl, _ := newTestController(t, testConfig(port), func(string) error { return nil })
	ctrl.timeout = 50 * time.Millisecond

	_, err := ctrl.Begin(t.Context(), cloud.OneDrive)
	assert.ErrorIs(t, err, ErrAuthTimeout)
	assert.Equal(t, StateFailed, ctrl.SessionState(cloud.OneDrive))

	// The listener must be torn down so a retry can bind again.
	require.Eventually(t, func() bool {
		l, listenErr := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if listenErr != nil {
			return false
		}

		l.Close()

		return true
	}, time.Second, 10*time.Millisecond)
}

func TestBegin_StateMismatch(t *testing.T) {
	openURL := func(authURL string) error {
		go fetchRedirect(t, authURL, url.Values{
			"state": {"forged-state"},
			"code":  {"auth-code-1"},
		})

		return nil
	}

	ctrl, _ := newTestController(t, testConfig(freePort(t)), openURL)

	_, err := ctrl.Begin(t.Context(), cloud.OneDrive)
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, StateFailed, ctrl.SessionState(cloud.OneDrive))
}

func TestBegin_ProviderDeniedAuthorization(t *testing.T) {
	openURL := func(authURL string) error {
		go fetchRedirect(t, authURL, url.Values{
			"error":             {"access_denied"},
			"error_description": {"user declined"},
		})

		return nil
	}

	ctrl, _ := newTestController(t, testConfig(freePort(t)), openURL)

	_, err := ctrl.Begin(t.Context(), cloud.OneDrive)
	assert.ErrorIs(t, err, ErrTokenExchange)
}

func TestBegin_ExchangeFailure(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer tokenSrv.Close()

	openURL := func(authURL string) error {
		go fetchRedirect(t, authURL, url.Values{"code": {"bad-code"}})
		return nil
	}

	ctrl, _ := newTestController(t, testConfig(freePort(t)), openURL)
	ctrl.endpointFn = func(cloud.Name, string) oauth2.Endpoint {
		return oauth2.Endpoint{AuthURL: tokenSrv.URL + "/authorize", TokenURL: tokenSrv.URL + "/token"}
	}

	_, err := ctrl.Begin(t.Context(), cloud.OneDrive)
	assert.ErrorIs(t, err, ErrTokenExchange)
	assert.Equal(t, StateFailed, ctrl.SessionState(cloud.OneDrive))
}

func TestBegin_SecondFlowRejectedWhileInProgress(t *testing.T) {
	ctrl, _ := newTestController(t, testConfig(freePort(t)), func(string) error { return nil })
	ctrl.setState(cloud.OneDrive, StateAwaitingRedirect)

	_, err := ctrl.Begin(t.Context(), cloud.OneDrive)
	assert.ErrorIs(t, err, ErrFlowInProgress)

	// A different provider is unaffected.
	ctrl.setState(cloud.GitHub, StateIdle)
	assert.Equal(t, StateIdle, ctrl.SessionState(cloud.GitHub))
}

func TestBegin_MissingClientID(t *testing.T) {
	cfg := &config.Config{RedirectPort: freePort(t)}

	ctrl, _ := newTestController(t, cfg, func(string) error { return nil })

	_, err := ctrl.Begin(t.Context(), cloud.OneDrive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestBegin_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	ctrl, _ := newTestController(t, testConfig(freePort(t)), func(string) error {
		cancel()
		return nil
	})

	_, err := ctrl.Begin(ctx, cloud.OneDrive)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoginPAT(t *testing.T) {
	ctrl, store := newTestController(t, testConfig(freePort(t)), nil)

	cred, err := ctrl.LoginPAT(cloud.GitHub, "ghp_testtoken")
	require.NoError(t, err)

	assert.Equal(t, "ghp_testtoken", cred.AccessToken)
	assert.True(t, cred.ExpiresAt.IsZero(), "a personal access token never expires")
	assert.Equal(t, StateAuthenticated, ctrl.SessionState(cloud.GitHub))

	saved, err := store.Load(cloud.GitHub)
	require.NoError(t, err)
	assert.False(t, saved.Expired(time.Now().Add(24*365*time.Hour), time.Minute))
}

func TestLoginPAT_EmptyToken(t *testing.T) {
	ctrl, _ := newTestController(t, testConfig(freePort(t)), nil)

	_, err := ctrl.LoginPAT(cloud.GitHub, "")
	assert.Error(t, err)
}

func TestLogout(t *testing.T) {
	ctrl, store := newTestController(t, testConfig(freePort(t)), nil)

	_, err := ctrl.LoginPAT(cloud.GitHub, "ghp_testtoken")
	require.NoError(t, err)

	require.NoError(t, ctrl.Logout(cloud.GitHub))
	assert.Equal(t, StateIdle, ctrl.SessionState(cloud.GitHub))

	_, err = store.Load(cloud.GitHub)
	assert.ErrorIs(t, err, credstore.ErrNotFound)

	// Logging out while signed out is fine.
	assert.NoError(t, ctrl.Logout(cloud.GitHub))
}

func TestHandleCallback_MissingCode(t *testing.T) {
	resultCh := make(chan callbackResult, 1)

	req := httptest.NewRequest(http.MethodGet, "/callback?state=abc", nil)
	rec := httptest.NewRecorder()

	handleCallback(rec, req, "abc", resultCh)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	result := <-resultCh
	assert.Error(t, result.err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting-redirect", StateAwaitingRedirect.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "failed", StateFailed.String())
}
