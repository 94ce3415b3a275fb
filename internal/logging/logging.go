// Package logging configures the shared logrus logger used by every authgate
// component.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Options controls logger setup.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means warn.
	Level string

	// File enables rotating file output when non-empty.
	File string

	// Output is used when File is empty. Nil means stderr.
	Output io.Writer
}

// LogFormatter renders one entry per line:
//
//	[2026-01-02 15:04:05] [warn ] [coordinator] refresh failed error=invalid_grant
type LogFormatter struct{}

// Format renders a single log entry.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	component := "-"
	if c, ok := entry.Data["component"].(string); ok && c != "" {
		component = c
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var fields strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&fields, " %s=%v", k, entry.Data[k])
	}

	fmt.Fprintf(buffer, "[%s] [%-5s] [%s] %s%s\n",
		entry.Time.Format("2006-01-02 15:04:05"),
		level,
		component,
		strings.TrimRight(entry.Message, "\r\n"),
		fields.String(),
	)
	return buffer.Bytes(), nil
}

// Setup configures the standard logrus logger. It is safe to call more than
// once; the previous log file, if any, is closed.
func Setup(opts Options) error {
	level := log.WarnLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	writerMu.Lock()
	defer writerMu.Unlock()

	log.SetLevel(level)
	log.SetFormatter(&LogFormatter{})

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		logWriter = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   false,
		}
		log.SetOutput(logWriter)
		return nil
	}

	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stderr)
	}
	return nil
}

// Close flushes and closes the rotating log file, if one is open.
func Close() {
	writerMu.Lock()
	defer writerMu.Unlock()
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}

// For returns a logger entry tagged with the given component name.
func For(component string) *log.Entry {
	return log.WithField("component", component)
}

// Redact shortens a secret to a recognizable but useless prefix.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "[REDACTED]"
	}
	return secret[:4] + "…" + "[REDACTED]"
}
