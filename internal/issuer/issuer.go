// Package issuer performs the two credential exchanges with the token
// endpoint: the initial password login and the refresh-token grant.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Grant is what is exchanged for a token. It is either a PasswordGrant or a
// RefreshGrant.
type Grant interface {
	grantType() string
}

// PasswordGrant exchanges user credentials for a token pair.
type PasswordGrant struct {
	Username string
	Password string
}

func (PasswordGrant) grantType() string { return "password" }

// RefreshGrant exchanges a refresh token for a new token pair.
type RefreshGrant struct {
	RefreshToken string
}

func (RefreshGrant) grantType() string { return "refresh_token" }

// GrantType returns the OAuth grant_type for g.
func GrantType(g Grant) string {
	if g == nil {
		return ""
	}
	return g.grantType()
}

// Token is the result of a successful exchange.
type Token struct {
	AccessToken  string
	RefreshToken string // may be empty; the caller keeps the previous one
	TokenType    string
	ExpiresIn    time.Duration // zero when the endpoint did not say
}

// Issuer performs credential exchanges. Implementations do not retry.
type Issuer interface {
	Exchange(ctx context.Context, g Grant) (*Token, error)
}

// Func adapts a function to the Issuer interface.
type Func func(ctx context.Context, g Grant) (*Token, error)

// Exchange calls f.
func (f Func) Exchange(ctx context.Context, g Grant) (*Token, error) {
	return f(ctx, g)
}

// Kind classifies an exchange failure.
type Kind int

const (
	// Transient covers network failures, timeouts and server errors.
	Transient Kind = iota
	// InvalidGrant means the endpoint rejected the credentials or refresh token.
	InvalidGrant
)

func (k Kind) String() string {
	switch k {
	case InvalidGrant:
		return "invalid_grant"
	default:
		return "transient"
	}
}

// Error is returned by Exchange on failure.
type Error struct {
	Kind        Kind
	Code        string // OAuth error code, if the endpoint sent one
	Description string
	StatusCode  int
	Err         error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Code != "" && e.Code != msg {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "token exchange failed (" + msg + ")"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidGrant reports whether err is an exchange rejection.
func IsInvalidGrant(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == InvalidGrant
}

type exchangeKey struct{}

// MarkExchange tags ctx so that requests made with it are treated as
// credential-exchange calls: never annotated, never classified.
func MarkExchange(ctx context.Context) context.Context {
	return context.WithValue(ctx, exchangeKey{}, true)
}

// IsExchange reports whether ctx was tagged by MarkExchange.
func IsExchange(ctx context.Context) bool {
	v, _ := ctx.Value(exchangeKey{}).(bool)
	return v
}

// exchangeTransport tags every request as an exchange call.
type exchangeTransport struct {
	base http.RoundTripper
}

func (t exchangeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if IsExchange(req.Context()) {
		return t.base.RoundTrip(req)
	}
	return t.base.RoundTrip(req.WithContext(MarkExchange(req.Context())))
}

// ExchangeClient returns an HTTP client whose requests are all tagged as
// exchange calls. A nil base uses http.DefaultTransport.
func ExchangeClient(base http.RoundTripper, timeout time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: exchangeTransport{base: base},
		Timeout:   timeout,
	}
}

func unsupportedGrant(g Grant) error {
	return &Error{Kind: InvalidGrant, Err: fmt.Errorf("unsupported grant %T", g)}
}
