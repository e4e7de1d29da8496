package auth

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hakosync/hakosync/internal/credentials"
	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/logging"
	"github.com/hakosync/hakosync/internal/models"
	"github.com/hakosync/hakosync/internal/transport"
)

// State is the lifecycle state of the access token.
type State string

const (
	// StateValid means the token is assumed good until the platform says
	// otherwise. No local expiry clock is trusted.
	StateValid State = "valid"
	// StateRefreshing means a refresh call is in flight.
	StateRefreshing State = "refreshing"
	// StateExpired is terminal: the platform invalidated the session and
	// only an external re-login can recover.
	StateExpired State = "expired"
)

// RequestBuilder constructs a fresh outbound request. Authorize may call
// it twice: once for the initial attempt and once for the replay after a
// refresh, so it must not reuse a consumed body.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// refreshFlight is one in-flight refresh shared by all waiters.
type refreshFlight struct {
	done chan struct{}
	err  error
}

// Lifecycle guarantees that every outbound call carries a currently valid
// access token, refreshing at most once under contention.
type Lifecycle struct {
	group  models.Group
	store  credentials.Store
	client transport.Doer
	logger *logging.Logger

	mu     sync.Mutex
	bundle *credentials.Bundle
	state  State
	flight *refreshFlight

	// onRefresh is invoked after every successful refresh, outside the
	// lock. Used by metrics.
	onRefresh func()
}

// NewLifecycle creates a token lifecycle for one group sharing one
// credential bundle.
func NewLifecycle(group models.Group, bundle *credentials.Bundle, store credentials.Store, client transport.Doer, logger *logging.Logger) *Lifecycle {
	return &Lifecycle{
		group:  group,
		store:  store,
		client: client,
		logger: logger,
		bundle: bundle.Clone(),
		state:  StateValid,
	}
}

// SetOnRefresh registers a callback fired after each successful refresh.
func (l *Lifecycle) SetOnRefresh(fn func()) {
	l.mu.Lock()
	l.onRefresh = fn
	l.mu.Unlock()
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Bundle returns a copy of the working credential bundle.
func (l *Lifecycle) Bundle() *credentials.Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bundle.Clone()
}

// Replace installs an externally refreshed bundle (e.g. from the
// credential file watcher) and clears a terminal expiry.
func (l *Lifecycle) Replace(bundle *credentials.Bundle) {
	l.mu.Lock()
	l.bundle = bundle.Clone()
	l.state = StateValid
	l.mu.Unlock()
}

// Authorize attaches the current access token to the request built by
// build, sends it, and on an authorization failure refreshes once and
// replays exactly once. The second authorization failure is terminal for
// the call.
func (l *Lifecycle) Authorize(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	token, err := l.currentToken()
	if err != nil {
		return nil, err
	}

	resp, err := l.send(ctx, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	l.logger.DebugWithContext(ctx, "unauthorized response, refreshing token", "group", l.group.String())
	if err := l.refresh(ctx, token); err != nil {
		return nil, err
	}

	token, err = l.currentToken()
	if err != nil {
		return nil, err
	}
	resp, err = l.send(ctx, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		endpoint := resp.Request.URL.Path
		resp.Body.Close()
		return nil, &errors.ErrUnexpectedStatus{Endpoint: endpoint, Status: http.StatusUnauthorized}
	}
	return resp, nil
}

func (l *Lifecycle) currentToken() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateExpired {
		return "", &errors.ErrSessionExpired{Group: l.group.String()}
	}
	return l.bundle.AccessToken, nil
}

func (l *Lifecycle) send(ctx context.Context, build RequestBuilder, token string) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}
	l.applyPlatformHeaders(req)
	req.Header.Set("Authorization", "Bearer "+token)
	return l.client.Do(req)
}

// applyPlatformHeaders sets the headers the platform requires on every
// API call.
func (l *Lifecycle) applyPlatformHeaders(req *http.Request) {
	cfg := l.group.Config()

	l.mu.Lock()
	appID := l.bundle.AppID
	userAgent := l.bundle.UserAgent
	l.mu.Unlock()

	if appID == "" {
		appID = cfg.AppID
	}

	req.Header.Set("X-Talk-App-ID", appID)
	req.Header.Set("X-Talk-App-Platform", "web")
	req.Header.Set("Origin", cfg.Origin)
	req.Header.Set("Referer", cfg.Origin+"/")
	req.Header.Set("Content-Type", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
}

// refresh coalesces concurrent refresh demand into a single platform
// call. staleToken is the token the caller saw fail; if the working
// bundle already carries a different token, another caller refreshed
// first and no new call is issued.
func (l *Lifecycle) refresh(ctx context.Context, staleToken string) error {
	l.mu.Lock()
	switch {
	case l.state == StateExpired:
		l.mu.Unlock()
		return &errors.ErrSessionExpired{Group: l.group.String()}
	case l.bundle.AccessToken != staleToken:
		// Already refreshed by a concurrent caller.
		l.mu.Unlock()
		return nil
	case l.flight != nil:
		flight := l.flight
		l.mu.Unlock()
		select {
		case <-flight.done:
			return flight.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	flight := &refreshFlight{done: make(chan struct{})}
	l.flight = flight
	l.state = StateRefreshing
	l.mu.Unlock()

	err := l.doRefresh(ctx)

	l.mu.Lock()
	l.flight = nil
	if err == nil {
		l.state = StateValid
	} else if isSessionExpired(err) {
		l.state = StateExpired
	} else {
		// Transient refresh failure: the token may still recover on a
		// later attempt.
		l.state = StateValid
	}
	onRefresh := l.onRefresh
	l.mu.Unlock()

	flight.err = err
	close(flight.done)

	if err == nil && onRefresh != nil {
		onRefresh()
	}
	return err
}

type refreshRequest struct {
	RefreshToken *string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Code         string `json:"code"`
}

// doRefresh performs the /update_token call. The platform accepts either
// the refresh token or the session cookies, never a stale Authorization
// header alongside them.
func (l *Lifecycle) doRefresh(ctx context.Context) error {
	l.mu.Lock()
	bundle := l.bundle.Clone()
	l.mu.Unlock()

	if !bundle.CanRefresh() {
		return &errors.ErrSessionExpired{Group: l.group.String(), Reason: "no refresh material available"}
	}

	if bundle.RefreshToken != "" {
		err := l.refreshCall(ctx, bundle, &bundle.RefreshToken, false)
		if err == nil || isSessionExpired(err) {
			return err
		}
		l.logger.Warn("refresh via refresh_token failed, falling back to cookies",
			"group", l.group.String(), "error", err.Error())
	}

	if len(bundle.Cookies) > 0 {
		return l.refreshCall(ctx, bundle, nil, true)
	}

	return &errors.ErrRefreshFailed{Err: fmt.Errorf("all refresh methods exhausted")}
}

func (l *Lifecycle) refreshCall(ctx context.Context, bundle *credentials.Bundle, refreshToken *string, withCookies bool) error {
	cfg := l.group.Config()
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return &errors.ErrRefreshFailed{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIBase+"/update_token", bytes.NewReader(body))
	if err != nil {
		return &errors.ErrRefreshFailed{Err: err}
	}
	l.applyPlatformHeaders(req)
	// A stale Authorization header combined with refresh material makes
	// the platform reject the call.
	req.Header.Del("Authorization")
	if withCookies {
		for name, value := range bundle.Cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return &errors.ErrRefreshFailed{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.ErrRefreshFailed{Err: err}
	}

	var parsed refreshResponse
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return &errors.ErrRefreshFailed{Err: err}
		}
		if parsed.AccessToken == "" {
			return &errors.ErrRefreshFailed{Err: fmt.Errorf("refresh response missing access_token")}
		}
		return l.adoptRefreshed(ctx, &parsed, resp.Cookies())
	case http.StatusBadRequest:
		_ = json.Unmarshal(payload, &parsed)
		if parsed.Code == "invalid_parameter" {
			// The session was invalidated, usually by a login from
			// another browser.
			return &errors.ErrSessionExpired{Group: l.group.String(), Reason: "session invalidated by the platform"}
		}
		return &errors.ErrRefreshFailed{Status: resp.StatusCode}
	case http.StatusUnauthorized:
		return &errors.ErrRefreshFailed{Status: resp.StatusCode}
	default:
		return &errors.ErrRefreshFailed{Status: resp.StatusCode}
	}
}

// adoptRefreshed installs the new token, rotates session cookies from the
// response, and writes the bundle back through the store atomically.
func (l *Lifecycle) adoptRefreshed(ctx context.Context, parsed *refreshResponse, setCookies []*http.Cookie) error {
	l.mu.Lock()
	l.bundle.AccessToken = parsed.AccessToken
	if parsed.RefreshToken != "" {
		l.bundle.RefreshToken = parsed.RefreshToken
	}
	// The server rotates the session cookie on every update_token call;
	// keeping the old one would invalidate the next refresh.
	for _, c := range setCookies {
		if l.bundle.Cookies == nil {
			l.bundle.Cookies = make(map[string]string)
		}
		l.bundle.Cookies[c.Name] = c.Value
	}
	saved := l.bundle.Clone()
	l.mu.Unlock()

	if err := l.store.Save(l.group.String(), saved); err != nil {
		l.logger.WarnWithContext(ctx, "failed to persist refreshed credentials",
			"group", l.group.String(), "error", err.Error())
	}
	l.logger.InfoWithContext(ctx, "access token refreshed", "group", l.group.String())
	return nil
}

func isSessionExpired(err error) bool {
	var expired *errors.ErrSessionExpired
	return stderrors.As(err, &expired)
}
