package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormatter(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "refresh failed\n",
		Data: log.Fields{
			"component": "coordinator",
			"waiters":   3,
			"error":     "invalid_grant",
		},
	}

	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)

	assert.Equal(t,
		"[2026-01-02 15:04:05] [warn ] [coordinator] refresh failed error=invalid_grant waiters=3\n",
		string(out))
}

func TestLogFormatterNoComponent(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "hello",
		Data:    log.Fields{},
	}

	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "[-] hello")
}

func TestSetupLevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Level: "debug", Output: &buf}))
	t.Cleanup(func() { _ = Setup(Options{}) })

	For("store").Debug("saved")
	assert.Contains(t, buf.String(), "[store] saved")
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestSetupInvalidLevel(t *testing.T) {
	err := Setup(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "authgate.log")
	require.NoError(t, Setup(Options{Level: "info", File: path}))

	For("proxy").Info("listening")
	Close()
	t.Cleanup(func() { _ = Setup(Options{}) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "[proxy] listening"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "[REDACTED]", Redact("short"))
	assert.Equal(t, "eyJh…[REDACTED]", Redact("eyJhbGciOiJIUzI1NiJ9"))
}
