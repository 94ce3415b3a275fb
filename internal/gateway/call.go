// Package gateway attaches credentials to outbound calls, recognizes
// authentication failures, and coordinates a single credential refresh for
// any number of concurrently failing calls before replaying them once.
package gateway

import (
	"context"
	"net/http"

	"github.com/basecamp/authgate/internal/issuer"
)

// CallKind distinguishes calls the gateway annotates from the credential
// exchanges it must leave alone.
type CallKind int

const (
	// AnnotatedCall is an ordinary call: annotated, classified, replayable.
	AnnotatedCall CallKind = iota
	// ExchangeCall is a credential exchange with the token endpoint.
	ExchangeCall
)

func (k CallKind) String() string {
	if k == ExchangeCall {
		return "exchange"
	}
	return "annotated"
}

// KindOf returns the call kind carried by req's context. Requests built with
// issuer.MarkExchange, or sent by an issuer.ExchangeClient, are exchanges.
func KindOf(req *http.Request) CallKind {
	if issuer.IsExchange(req.Context()) {
		return ExchangeCall
	}
	return AnnotatedCall
}

type retriedKey struct{}

// withRetried marks ctx as belonging to a call already replayed after a
// refresh.
func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// Retried reports whether ctx belongs to a replayed call.
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}
