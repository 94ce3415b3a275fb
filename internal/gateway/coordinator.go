package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/basecamp/authgate/internal/credstore"
	"github.com/basecamp/authgate/internal/issuer"
	"github.com/basecamp/authgate/internal/logging"
)

// DefaultRefreshTimeout bounds a single refresh exchange.
const DefaultRefreshTimeout = 30 * time.Second

// ErrSessionExpired is returned to every call whose session could not be
// refreshed.
var ErrSessionExpired = errors.New("session expired")

// refreshResult is delivered to each waiter when a refresh resolves.
type refreshResult struct {
	cred credstore.Credential
	err  error
}

// waiter is one caller blocked on the in-flight refresh. seq is its join
// order; waiters are resumed in ascending seq.
type waiter struct {
	seq uint64
	ch  chan refreshResult
}

// Coordinator runs at most one refresh at a time and fans its result out to
// every caller that demanded one while it was in flight.
//
// mu is the single synchronization point for the in-flight flag, the wait
// list, the expiry episode and every credential store update. Store updates
// only touch memory; persistence happens on the store's writer goroutine.
type Coordinator struct {
	store    *credstore.Store
	issuer   issuer.Issuer
	notifier *Notifier
	hooks    Hooks
	timeout  time.Duration
	log      *log.Entry

	mu       sync.Mutex
	inFlight bool
	waiters  []waiter
	nextSeq  uint64
	expired  bool
	// generation changes whenever the session is replaced outside a refresh
	// (login, logout, reload); a refresh that started in an older generation
	// does not write its result.
	generation uint64

	// onResume, if set, observes each waiter as it is resumed.
	onResume func(seq uint64)
}

// NewCoordinator creates a coordinator. A zero timeout uses
// DefaultRefreshTimeout; nil hooks are replaced with NoopHooks.
func NewCoordinator(store *credstore.Store, iss issuer.Issuer, notifier *Notifier, hooks Hooks, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	if hooks == nil {
		hooks = NoopHooks{}
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Coordinator{
		store:    store,
		issuer:   iss,
		notifier: notifier,
		hooks:    hooks,
		timeout:  timeout,
		log:      logging.For("coordinator"),
	}
}

// DemandRefresh obtains a credential fresher than staleToken, the access
// token the caller's failed attempt was sent with.
//
// If a refresh is in flight the caller joins its wait list. If the current
// credential already differs from staleToken, another refresh finished after
// the caller's attempt was sent and the current credential is returned
// without a new exchange. An empty staleToken always forces a refresh.
//
// A queued caller cannot leave early: ctx is not consulted while waiting, and
// the exchange itself runs detached from ctx, bounded by the refresh timeout.
func (c *Coordinator) DemandRefresh(ctx context.Context, staleToken string) (credstore.Credential, error) {
	c.mu.Lock()

	if c.inFlight {
		ch := c.joinLocked()
		n := len(c.waiters)
		c.mu.Unlock()

		c.log.WithField("position", n).Debug("waiting for in-flight refresh")
		r := <-ch
		return r.cred, r.err
	}

	cur, ok := c.store.Get()
	if ok && staleToken != "" && cur.AccessToken != staleToken {
		c.mu.Unlock()
		return cur, nil
	}

	if !ok || !cur.CanRefresh() {
		c.store.Clear()
		first := c.expireLocked()
		c.mu.Unlock()

		if first {
			c.log.Info("session expired: no refresh credential")
			c.emitExpired(ctx)
		}
		return credstore.Credential{}, fmt.Errorf("%w: no refresh credential", ErrSessionExpired)
	}

	c.inFlight = true
	self := c.joinLocked()
	gen := c.generation
	c.mu.Unlock()

	c.refresh(ctx, cur, gen)

	r := <-self
	return r.cred, r.err
}

// joinLocked appends a waiter to the wait list. c.mu must be held.
func (c *Coordinator) joinLocked() chan refreshResult {
	c.nextSeq++
	ch := make(chan refreshResult, 1)
	c.waiters = append(c.waiters, waiter{seq: c.nextSeq, ch: ch})
	return ch
}

// refresh performs the exchange and resolves the wait list. It runs on the
// goroutine of the caller that started the refresh. A panic in the issuer or
// the start hook fails the refresh like any other error and is re-raised once
// every waiter has been resolved.
func (c *Coordinator) refresh(ctx context.Context, cur credstore.Credential, gen uint64) {
	start := time.Now()
	tok, recovered, err := c.exchange(ctx, cur)

	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = &issuer.Error{Kind: issuer.Transient, Err: errors.New("token endpoint returned no access token")}
	}

	var result refreshResult
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false

	first := false
	switch {
	case gen != c.generation:
		// The session was replaced while the exchange ran; resolve the
		// waiters against whatever is current now.
		if now, ok := c.store.Get(); ok {
			result = refreshResult{cred: now}
		} else {
			result = refreshResult{err: fmt.Errorf("%w: session ended during refresh", ErrSessionExpired)}
		}
	case err != nil:
		c.store.Clear()
		first = c.expireLocked()
		result = refreshResult{err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
	default:
		cred := credentialFromToken(tok, cur.RefreshToken, time.Now())
		c.store.Set(cred)
		c.expired = false
		result = refreshResult{cred: cred}
	}
	c.mu.Unlock()

	for _, w := range waiters {
		if c.onResume != nil {
			c.onResume(w.seq)
		}
		w.ch <- result
	}

	entry := c.log.WithField("waiters", len(waiters)).WithField("duration", time.Since(start).Round(time.Millisecond))
	if err != nil {
		entry.WithError(err).Warn("refresh failed")
	} else {
		entry.Debug("refresh succeeded")
	}
	c.hooks.OnRefreshEnd(ctx, RefreshResult{Waiters: len(waiters), Duration: time.Since(start), Error: result.err})

	if first {
		c.emitExpired(ctx)
	}
	if recovered != nil {
		panic(recovered)
	}
}

// exchange runs the refresh grant, converting a panic into a transient
// failure. The recovered value is returned so the caller can re-raise it.
func (c *Coordinator) exchange(ctx context.Context, cur credstore.Credential) (tok *issuer.Token, recovered any, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
			tok = nil
			err = &issuer.Error{Kind: issuer.Transient, Err: fmt.Errorf("refresh panicked: %v", r)}
		}
	}()

	c.hooks.OnRefreshStart(ctx)
	c.log.WithField("refresh_token", logging.Redact(cur.RefreshToken)).Debug("refreshing credential")

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	tok, err = c.issuer.Exchange(rctx, issuer.RefreshGrant{RefreshToken: cur.RefreshToken})
	return tok, nil, err
}

// expireLocked enters the Expired state and reports whether this call began
// a new expiry episode. c.mu must be held.
func (c *Coordinator) expireLocked() bool {
	if c.expired {
		return false
	}
	c.expired = true
	return true
}

func (c *Coordinator) emitExpired(ctx context.Context) {
	c.hooks.OnSessionExpired(ctx)
	c.notifier.NotifyExpired()
}

// Install replaces the session with cred and ends any expiry episode.
func (c *Coordinator) Install(cred credstore.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.expired = false
	c.store.Set(cred)
}

// Clear ends the session without emitting an expiry event.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.expired = false
	c.store.Clear()
}

// Reload re-reads the persisted session. A changed credential written by
// another process ends any expiry episode. It reports whether anything changed.
func (c *Coordinator) Reload() bool {
	if !c.store.Reload() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if _, ok := c.store.Get(); ok {
		c.expired = false
	}
	return true
}

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inFlight:
		return RefreshInFlight
	case c.expired:
		return Expired
	}
	if _, ok := c.store.Get(); ok {
		return Authenticated
	}
	return Anonymous
}

// credentialFromToken builds a credential from an exchange result. A missing
// refresh token keeps prevRefresh; a missing expiry falls back to the JWT
// exp claim.
func credentialFromToken(tok *issuer.Token, prevRefresh string, now time.Time) credstore.Credential {
	cred := credstore.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = prevRefresh
	}
	if cred.TokenType == "" {
		cred.TokenType = "Bearer"
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(tok.ExpiresIn)
	} else if exp, ok := credstore.ExpiryFromJWT(tok.AccessToken); ok {
		cred.ExpiresAt = exp
	}
	return cred
}
