package gateway

import (
	"net/http"

	"github.com/basecamp/authgate/internal/credstore"
)

// DefaultCSRFHeader carries the anti-forgery token.
const DefaultCSRFHeader = "X-CSRF-Token"

// Annotator attaches the bearer credential and anti-forgery token to
// outbound calls.
type Annotator struct {
	store  *credstore.Store
	header string
}

// NewAnnotator creates an annotator reading from store. An empty header name
// uses DefaultCSRFHeader.
func NewAnnotator(store *credstore.Store, csrfHeader string) *Annotator {
	if csrfHeader == "" {
		csrfHeader = DefaultCSRFHeader
	}
	return &Annotator{store: store, header: csrfHeader}
}

// Annotate sets the Authorization and anti-forgery headers on req, and
// returns the access token it attached ("" if there was none). Exchange calls
// are left untouched.
func (a *Annotator) Annotate(req *http.Request) string {
	if KindOf(req) == ExchangeCall {
		return ""
	}

	var token string
	if cred, ok := a.store.Get(); ok {
		token = cred.AccessToken
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}
	req.Header.Set(a.header, a.store.AntiForgeryToken())
	return token
}
