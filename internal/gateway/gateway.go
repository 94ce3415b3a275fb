package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/basecamp/authgate/internal/credstore"
	"github.com/basecamp/authgate/internal/issuer"
	"github.com/basecamp/authgate/internal/logging"
)

// Options configures a Gateway.
type Options struct {
	Store  *credstore.Store
	Issuer issuer.Issuer

	// Base sends the annotated requests. Nil means http.DefaultTransport.
	Base http.RoundTripper

	CSRFHeader        string
	AuthStatuses      []int
	ForbiddenStatuses []int
	RefreshTimeout    time.Duration
	Hooks             Hooks

	// MaxReplayBody caps the request body buffered for a replay. Zero means
	// DefaultMaxReplayBody.
	MaxReplayBody int64
}

// Gateway wires the credential store, issuer, coordinator, notifier and
// transport together.
type Gateway struct {
	store       *credstore.Store
	issuer      issuer.Issuer
	notifier    *Notifier
	coordinator *Coordinator
	transport   *Transport
	log         *log.Entry
}

// New creates a gateway. Store and Issuer are required.
func New(opts Options) *Gateway {
	if opts.Store == nil {
		opts.Store = credstore.NewStore(nil, "default")
	}
	notifier := NewNotifier()
	coordinator := NewCoordinator(opts.Store, opts.Issuer, notifier, opts.Hooks, opts.RefreshTimeout)
	transport := NewTransport(
		opts.Base,
		NewAnnotator(opts.Store, opts.CSRFHeader),
		NewClassifier(opts.AuthStatuses, opts.ForbiddenStatuses),
		coordinator,
		opts.Hooks,
	)
	if opts.MaxReplayBody > 0 {
		transport.maxReplayBody = opts.MaxReplayBody
	}
	return &Gateway{
		store:       opts.Store,
		issuer:      opts.Issuer,
		notifier:    notifier,
		coordinator: coordinator,
		transport:   transport,
		log:         logging.For("gateway"),
	}
}

// Login exchanges user credentials for a session and installs it.
func (g *Gateway) Login(ctx context.Context, username, password string) (credstore.Credential, error) {
	if username == "" || password == "" {
		return credstore.Credential{}, errors.New("username and password are required")
	}
	tok, err := g.issuer.Exchange(ctx, issuer.PasswordGrant{Username: username, Password: password})
	if err != nil {
		return credstore.Credential{}, err
	}
	if tok == nil || tok.AccessToken == "" {
		return credstore.Credential{}, &issuer.Error{Kind: issuer.Transient, Err: errors.New("token endpoint returned no access token")}
	}
	cred := credentialFromToken(tok, "", time.Now())
	g.coordinator.Install(cred)
	g.log.WithField("user", username).Info("logged in")
	return cred, nil
}

// Logout clears the session. It does not emit a session-expired event.
func (g *Gateway) Logout() {
	g.coordinator.Clear()
	g.log.Info("logged out")
}

// Refresh forces a refresh, joining one already in flight.
func (g *Gateway) Refresh(ctx context.Context) (credstore.Credential, error) {
	return g.coordinator.DemandRefresh(ctx, "")
}

// Reload picks up a session written by another process.
func (g *Gateway) Reload() bool {
	changed := g.coordinator.Reload()
	if changed {
		g.log.Info("session reloaded from store")
	}
	return changed
}

// State returns the session state.
func (g *Gateway) State() State {
	return g.coordinator.State()
}

// Credential returns a copy of the current credential.
func (g *Gateway) Credential() (credstore.Credential, bool) {
	return g.store.Get()
}

// Classifier returns the classifier the transport uses, so callers can map
// terminal responses with the same status sets.
func (g *Gateway) Classifier() *Classifier {
	return g.transport.classifier
}

// Subscribe registers fn for session-expired events.
func (g *Gateway) Subscribe(fn func()) (cancel func()) {
	return g.notifier.Subscribe(fn)
}

// Transport returns the intercepting round tripper.
func (g *Gateway) Transport() http.RoundTripper {
	return g.transport
}

// HTTPClient returns a client whose every request passes through the gateway.
func (g *Gateway) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: g.transport, Timeout: timeout}
}
