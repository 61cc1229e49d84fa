package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/credstore"
)

// RefreshSkew is subtracted from the expiry when deciding whether a
// token is still usable, so a token is never presented moments before
// it lapses server-side.
const RefreshSkew = 60 * time.Second

// Refresher keeps access tokens fresh. A refresh is attempted at most
// once per call — never in a loop — so a revoked refresh token cannot
// hammer the token endpoint.
type Refresher struct {
	store *credstore.Store
	ctrl  *Controller

	// now is injected by tests.
	now func() time.Time

	// httpClient, when set, performs the refresh exchange. Tests point
	// it at a local token endpoint.
	httpClient *http.Client
}

// NewRefresher returns a Refresher sharing the controller's session
// state, so a rejected refresh transitions the provider to Failed.
func (c *Controller) NewRefresher() *Refresher {
	return &Refresher{
		store: c.store,
		ctrl:  c,
		now:   time.Now,
	}
}

// EnsureFresh returns a usable access token for the provider,
// refreshing first if the cached token is within the skew of expiry.
func (r *Refresher) EnsureFresh(ctx context.Context, name cloud.Name) (string, error) {
	cred, err := r.store.Load(name)
	if err != nil {
		return "", err
	}

	if !cred.Expired(r.now(), RefreshSkew) {
		return cred.AccessToken, nil
	}

	return r.refresh(ctx, name, cred)
}

// ForceRefresh performs one refresh exchange regardless of the cached
// expiry. Used after a provider rejects a token the store believed
// fresh (server-side revocation).
func (r *Refresher) ForceRefresh(ctx context.Context, name cloud.Name) error {
	cred, err := r.store.Load(name)
	if err != nil {
		return err
	}

	_, err = r.refresh(ctx, name, cred)

	return err
}

// refresh performs exactly one refresh-token exchange, persists the
// rotated credential, and returns the new access token.
func (r *Refresher) refresh(ctx context.Context, name cloud.Name, cred *credstore.Credential) (string, error) {
	if cred.RefreshToken == "" {
		r.ctrl.setState(name, StateFailed)
		return "", fmt.Errorf("%w: %s has no refresh token", ErrReauthRequired, name)
	}

	r.ctrl.setState(name, StateRefreshing)
	r.ctrl.logger.Info("refreshing access token", slog.String("provider", string(name)))

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	oc := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Scopes:       cred.Scopes,
		Endpoint:     r.ctrl.endpointFn(name, cred.Tenant),
	}

	// A TokenSource seeded with only a refresh token performs a single
	// refresh_token grant on Token().
	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		r.ctrl.setState(name, StateFailed)
		r.ctrl.report(name, "token refresh rejected: "+err.Error())

		return "", fmt.Errorf("%w: %s: %v", ErrReauthRequired, name, err)
	}

	cred.AccessToken = tok.AccessToken
	cred.ExpiresAt = tok.Expiry

	// Providers may rotate the refresh token on use.
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}

	if err := r.store.Save(cred); err != nil {
		return "", fmt.Errorf("authflow: persisting refreshed credential: %w", err)
	}

	r.ctrl.setState(name, StateAuthenticated)
	r.ctrl.logger.Info("token refreshed",
		slog.String("provider", string(name)),
		slog.Time("expires_at", cred.ExpiresAt),
	)

	return cred.AccessToken, nil
}

// Source adapts the refresher to the cloud.TokenSource consumed by
// providers: every request gets a token guaranteed fresh at call time.
func (r *Refresher) Source(name cloud.Name) cloud.TokenSource {
	return &refreshSource{r: r, name: name}
}

type refreshSource struct {
	r    *Refresher
	name cloud.Name
}

func (s *refreshSource) Token(ctx context.Context) (string, error) {
	return s.r.EnsureFresh(ctx, s.name)
}
