package commands

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/authgate/internal/credstore"
	"github.com/basecamp/authgate/internal/gateway"
	"github.com/basecamp/authgate/internal/issuer"
	"github.com/basecamp/authgate/internal/output"
)

func TestAuthLoginPasswordStdin(t *testing.T) {
	api := newTestAPI(t)
	app, buf := setupTestApp(t, api.URL)

	_, err := executeCommand(NewAuthCmd(), app, "secret\n", "login", "--username", "alice", "--password-stdin")
	require.NoError(t, err)

	env := decodeEnvelope(t, buf)
	assert.True(t, env.OK)
	assert.Equal(t, "Logged in as alice", env.Summary)

	data := dataMap(t, env)
	assert.Equal(t, true, data["authenticated"])
	assert.Equal(t, true, data["can_refresh"])
	assert.Equal(t, "authenticated", data["state"])
	assert.Contains(t, data, "expires_at")
	assert.NotContains(t, buf.String(), `"fresh"`, "tokens must not be printed")

	cred, ok := app.Store.Get()
	require.True(t, ok)
	assert.Equal(t, "fresh", cred.AccessToken)
	assert.Equal(t, int32(1), api.tokenCalls.Load())
}

func TestAuthLoginRejected(t *testing.T) {
	api := newTestAPI(t)
	app, _ := setupTestApp(t, api.URL)

	_, err := executeCommand(NewAuthCmd(), app, "wrong", "login", "-u", "alice", "--password-stdin")
	require.Error(t, err)

	e := output.AsError(err)
	assert.Equal(t, output.CodeAuth, e.Code)
	assert.Equal(t, "bad credentials", e.Hint)
	assert.Equal(t, output.ExitAuth, e.ExitCode())

	_, ok := app.Store.Get()
	assert.False(t, ok)
}

func TestAuthLoginUsageErrors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"stdin without username", "secret", []string{"login", "--password-stdin"}},
		{"empty password", "\n", []string{"login", "-u", "alice", "--password-stdin"}},
		{"no terminal", "", []string{"login", "-u", "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := setupTestApp(t, api.URL)
			app.Flags.JSON = true

			_, err := executeCommand(NewAuthCmd(), app, tt.stdin, tt.args...)
			assert.True(t, output.IsCode(err, output.CodeUsage), "got %v", err)
		})
	}
	assert.Zero(t, api.tokenCalls.Load())
}

func TestAuthLoginRequiresBaseURL(t *testing.T) {
	app, _ := setupTestApp(t, "")

	_, err := executeCommand(NewAuthCmd(), app, "secret", "login", "-u", "alice", "--password-stdin")
	assert.True(t, output.IsCode(err, output.CodeUsage), "got %v", err)
}

func TestLoginError(t *testing.T) {
	transient := loginError(&issuer.Error{Kind: issuer.Transient, Err: errors.New("connection refused")})
	assert.True(t, output.IsCode(transient, output.CodeNetwork), "got %v", transient)

	rejected := loginError(&issuer.Error{Kind: issuer.InvalidGrant, Code: "invalid_grant"})
	e := output.AsError(rejected)
	assert.Equal(t, output.CodeAuth, e.Code)
	assert.Equal(t, "Check the username and password", e.Hint)

	plain := loginError(errors.New("username and password are required"))
	assert.True(t, output.IsCode(plain, output.CodeUsage))
}

func TestAuthLogout(t *testing.T) {
	app, buf := setupTestApp(t, "https://api.example.com")
	app.Store.Set(credstore.Credential{AccessToken: "a1", RefreshToken: "r1"})

	_, err := executeCommand(NewAuthCmd(), app, "", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out", decodeEnvelope(t, buf).Summary)

	_, ok := app.Store.Get()
	assert.False(t, ok)
	assert.Equal(t, gateway.Anonymous, app.Gateway.State())

	buf.Reset()
	_, err = executeCommand(NewAuthCmd(), app, "", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Not logged in", decodeEnvelope(t, buf).Summary)
}

func TestAuthStatus(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		app, buf := setupTestApp(t, "https://api.example.com")

		_, err := executeCommand(NewAuthCmd(), app, "", "status")
		require.NoError(t, err)

		env := decodeEnvelope(t, buf)
		assert.Equal(t, "Not logged in", env.Summary)
		data := dataMap(t, env)
		assert.Equal(t, false, data["authenticated"])
		assert.Equal(t, "anonymous", data["state"])
		assert.Equal(t, "https://api.example.com", data["origin"])
	})

	t.Run("past advisory expiry", func(t *testing.T) {
		app, buf := setupTestApp(t, "https://api.example.com")
		app.Store.Set(credstore.Credential{
			AccessToken: "a1",
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(-time.Minute),
		})

		_, err := executeCommand(NewAuthCmd(), app, "", "status")
		require.NoError(t, err)

		env := decodeEnvelope(t, buf)
		assert.True(t, strings.HasPrefix(env.Summary, "Logged in"))
		assert.Contains(t, env.Summary, "advisory expiry")
		data := dataMap(t, env)
		assert.Equal(t, true, data["expired"])
		assert.Equal(t, false, data["can_refresh"])
		assert.Equal(t, "Bearer", data["token_type"])
	})
}

func TestAuthRefresh(t *testing.T) {
	api := newTestAPI(t)
	app, buf := setupTestApp(t, api.URL)
	app.Store.Set(credstore.Credential{AccessToken: "stale", RefreshToken: "r1"})

	_, err := executeCommand(NewAuthCmd(), app, "", "refresh")
	require.NoError(t, err)
	assert.Equal(t, "Access token refreshed", decodeEnvelope(t, buf).Summary)

	cred, ok := app.Store.Get()
	require.True(t, ok)
	assert.Equal(t, "fresh", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken)
}

func TestAuthRefreshWithoutRefreshToken(t *testing.T) {
	api := newTestAPI(t)
	app, _ := setupTestApp(t, api.URL)
	app.Store.Set(credstore.Credential{AccessToken: "stale"})

	_, err := executeCommand(NewAuthCmd(), app, "", "refresh")
	require.Error(t, err)

	assert.True(t, output.IsCode(err, output.CodeSessionExpired), "got %v", err)
	assert.ErrorIs(t, err, gateway.ErrSessionExpired)
	assert.Equal(t, gateway.Expired, app.Gateway.State())
	assert.Zero(t, api.tokenCalls.Load())
}

func TestAuthToken(t *testing.T) {
	t.Run("raw", func(t *testing.T) {
		app, buf := setupTestApp(t, "https://api.example.com")
		app.Store.Set(credstore.Credential{AccessToken: "a1"})

		out, err := executeCommand(NewAuthCmd(), app, "", "token")
		require.NoError(t, err)
		assert.Equal(t, "a1\n", out)
		assert.Zero(t, buf.Len())
	})

	t.Run("json", func(t *testing.T) {
		app, buf := setupTestApp(t, "https://api.example.com")
		app.Store.Set(credstore.Credential{AccessToken: "a1"})
		app.Flags.JSON = true

		out, err := executeCommand(NewAuthCmd(), app, "", "token")
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Equal(t, "a1", dataMap(t, decodeEnvelope(t, buf))["token"])
	})

	t.Run("not logged in", func(t *testing.T) {
		app, _ := setupTestApp(t, "https://api.example.com")

		_, err := executeCommand(NewAuthCmd(), app, "", "token")
		assert.True(t, output.IsCode(err, output.CodeAuth), "got %v", err)
	})

	t.Run("refresh when expired", func(t *testing.T) {
		api := newTestAPI(t)
		app, _ := setupTestApp(t, api.URL)
		app.Store.Set(credstore.Credential{
			AccessToken:  "stale",
			RefreshToken: "r1",
			ExpiresAt:    time.Now().Add(-time.Second),
		})

		out, err := executeCommand(NewAuthCmd(), app, "", "token", "--refresh")
		require.NoError(t, err)
		assert.Equal(t, "fresh\n", out)
	})

	t.Run("refresh skipped when current", func(t *testing.T) {
		api := newTestAPI(t)
		app, _ := setupTestApp(t, api.URL)
		app.Store.Set(credstore.Credential{
			AccessToken:  "a1",
			RefreshToken: "r1",
			ExpiresAt:    time.Now().Add(time.Hour),
		})

		out, err := executeCommand(NewAuthCmd(), app, "", "token", "--refresh")
		require.NoError(t, err)
		assert.Equal(t, "a1\n", out)
		assert.Zero(t, api.tokenCalls.Load())
	})
}
