package issuer

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/basecamp/authgate/internal/logging"
)

// invalidGrantCodes are OAuth error codes that mean the grant itself was
// rejected, as opposed to the endpoint being unavailable.
var invalidGrantCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
	"invalid_request":     true,
}

// Config configures an OAuth2Issuer.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Transport is the base round tripper for token requests. Nil means
	// http.DefaultTransport.
	Transport http.RoundTripper

	// Timeout bounds a single exchange. Zero means no client-side limit;
	// callers are expected to bound ctx.
	Timeout time.Duration
}

// OAuth2Issuer exchanges grants against an OAuth 2 token endpoint.
type OAuth2Issuer struct {
	cfg    *oauth2.Config
	client *http.Client
	log    *log.Entry
}

// NewOAuth2Issuer creates an issuer for the given token endpoint.
func NewOAuth2Issuer(cfg Config) *OAuth2Issuer {
	return &OAuth2Issuer{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.TokenURL,
			},
		},
		client: ExchangeClient(cfg.Transport, cfg.Timeout),
		log:    logging.For("issuer"),
	}
}

// Exchange performs one token request. It does not retry.
func (i *OAuth2Issuer) Exchange(ctx context.Context, g Grant) (*Token, error) {
	ctx = context.WithValue(MarkExchange(ctx), oauth2.HTTPClient, i.client)
	i.log.WithField("grant", GrantType(g)).Debug("exchanging grant")

	var (
		tok *oauth2.Token
		err error
	)
	switch grant := g.(type) {
	case PasswordGrant:
		tok, err = i.cfg.PasswordCredentialsToken(ctx, grant.Username, grant.Password)
	case RefreshGrant:
		if grant.RefreshToken == "" {
			return nil, &Error{Kind: InvalidGrant, Code: "invalid_grant", Description: "no refresh token"}
		}
		tok, err = i.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: grant.RefreshToken}).Token()
	default:
		return nil, unsupportedGrant(g)
	}
	if err != nil {
		classified := classify(err)
		i.log.WithField("grant", GrantType(g)).WithField("kind", classified.Kind).
			WithError(err).Debug("exchange failed")
		return nil, classified
	}

	return fromOAuth2(tok, time.Now()), nil
}

func fromOAuth2(tok *oauth2.Token, now time.Time) *Token {
	t := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if tok.ExpiresIn > 0 {
		t.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	} else if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(now); d > 0 {
			t.ExpiresIn = d.Round(time.Second)
		}
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	return t
}

// classify maps an oauth2 failure to an *Error.
func classify(err error) *Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := &Error{
			Kind:        Transient,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Err:         err,
		}
		if re.Response != nil {
			e.StatusCode = re.Response.StatusCode
		}
		if invalidGrantCodes[re.ErrorCode] || e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized {
			e.Kind = InvalidGrant
		}
		return e
	}
	return &Error{Kind: Transient, Err: err}
}
