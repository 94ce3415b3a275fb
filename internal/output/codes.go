// Package output provides JSON/styled output formatting and error handling.
package output

// Exit codes returned by the authgate binary.
const (
	ExitOK        = 0 // Success
	ExitUsage     = 1 // Invalid arguments or flags
	ExitNotFound  = 2 // Resource not found
	ExitAuth      = 3 // Not authenticated or session expired
	ExitForbidden = 4 // Authenticated but not permitted
	ExitRateLimit = 5 // Rate limited (429)
	ExitNetwork   = 6 // Connection/DNS/timeout error
	ExitAPI       = 7 // Server returned error
)

// Error codes for JSON envelope.
const (
	CodeUsage          = "usage"
	CodeNotFound       = "not_found"
	CodeAuth           = "auth_required"
	CodeSessionExpired = "session_expired"
	CodeForbidden      = "forbidden"
	CodeRateLimit      = "rate_limit"
	CodeNetwork        = "network"
	CodeAPI            = "api_error"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth, CodeSessionExpired:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	default:
		return ExitAPI
	}
}
