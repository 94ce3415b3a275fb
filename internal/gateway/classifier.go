package gateway

import "net/http"

// Outcome is the classification of a completed call.
type Outcome int

const (
	// Success passes the response through unchanged.
	Success Outcome = iota
	// AuthExpired means the credential was rejected on a first attempt.
	AuthExpired
	// PermissionDenied is terminal for the call and never triggers a refresh.
	PermissionDenied
	// Other is any other failure, including a rejection after a replay.
	Other
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case AuthExpired:
		return "auth_expired"
	case PermissionDenied:
		return "permission_denied"
	default:
		return "other"
	}
}

// Classifier maps responses to outcomes using configurable status sets.
type Classifier struct {
	auth      map[int]bool
	forbidden map[int]bool
}

// NewClassifier creates a classifier. Empty sets default to 401 for
// authentication failures and 403 for permission denials. A status listed in
// both sets is treated as a permission denial.
func NewClassifier(authStatuses, forbiddenStatuses []int) *Classifier {
	if len(authStatuses) == 0 {
		authStatuses = []int{http.StatusUnauthorized}
	}
	if len(forbiddenStatuses) == 0 {
		forbiddenStatuses = []int{http.StatusForbidden}
	}
	c := &Classifier{
		auth:      make(map[int]bool, len(authStatuses)),
		forbidden: make(map[int]bool, len(forbiddenStatuses)),
	}
	for _, s := range authStatuses {
		c.auth[s] = true
	}
	for _, s := range forbiddenStatuses {
		c.forbidden[s] = true
	}
	return c
}

// IsAuthStatus reports whether status signals a rejected credential.
func (c *Classifier) IsAuthStatus(status int) bool {
	return c.auth[status] && !c.forbidden[status]
}

// IsForbiddenStatus reports whether status signals a permission denial.
func (c *Classifier) IsForbiddenStatus(status int) bool {
	return c.forbidden[status]
}

// Classify inspects the result of one attempt. retried is true for an
// attempt made after a refresh; such an attempt is never AuthExpired.
func (c *Classifier) Classify(resp *http.Response, err error, retried bool) Outcome {
	if err != nil || resp == nil {
		return Other
	}
	switch {
	case c.forbidden[resp.StatusCode]:
		return PermissionDenied
	case c.auth[resp.StatusCode]:
		if retried {
			return Other
		}
		return AuthExpired
	case resp.StatusCode >= 400:
		return Other
	default:
		return Success
	}
}
