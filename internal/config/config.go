// Package config provides layered configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/basecamp/authgate/internal/hostutil"
	"github.com/basecamp/authgate/internal/logging"
)

// Config holds the resolved configuration.
type Config struct {
	// Upstream API and token endpoint
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`

	// Gateway behavior
	CSRFHeader        string        `yaml:"csrf_header"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	AuthStatuses      []int         `yaml:"auth_statuses"`
	ForbiddenStatuses []int         `yaml:"forbidden_statuses"`

	// Credential persistence
	Store    string `yaml:"store"`
	StoreDir string `yaml:"store_dir"`
	RedisURL string `yaml:"redis_url"`

	// Logging and output
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Format   string `yaml:"format"`
	Stats    bool   `yaml:"stats"`

	// Local proxy
	ProxyListen string `yaml:"proxy_listen"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceRepo    Source = "repo"
	SourceLocal   Source = "local"
	SourceDotenv  Source = "dotenv"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// untrusted reports whether a source may be controlled by whoever authored
// the current directory rather than by the user.
func (s Source) untrusted() bool {
	return s == SourceRepo || s == SourceLocal || s == SourceDotenv
}

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "AUTHGATE_"

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ConfigPath string
	BaseURL    string
	Store      string
	Format     string
	Stats      bool
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		CSRFHeader:        "X-CSRF-Token",
		RefreshTimeout:    30 * time.Second,
		RequestTimeout:    30 * time.Second,
		AuthStatuses:      []int{401},
		ForbiddenStatuses: []int{403},
		Store:             "keyring",
		StoreDir:          GlobalConfigDir(),
		LogLevel:          "warn",
		Format:            "auto",
		ProxyListen:       "127.0.0.1:8787",
		Sources:           make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > .env > local > repo > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	if overrides.ConfigPath != "" {
		if _, err := os.Stat(overrides.ConfigPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		loadFromFile(cfg, overrides.ConfigPath, SourceGlobal)
	} else {
		for _, path := range globalConfigPaths() {
			loadFromFile(cfg, path, SourceGlobal)
		}
	}

	repoPath := repoConfigPath()
	if repoPath != "" {
		loadFromFile(cfg, repoPath, SourceRepo)
	}
	if localPath := localConfigPath(); localPath != "" && localPath != repoPath {
		loadFromFile(cfg, localPath, SourceLocal)
	}

	loadDotenv(cfg, ".env")
	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

// key describes one configuration key and how to apply a raw value to it.
type key struct {
	name      string
	authority bool // controls where credentials are sent
	apply     func(cfg *Config, v any) error
}

var keys = []key{
	{"base_url", true, setString(func(c *Config) *string { return &c.BaseURL })},
	{"token_url", true, setString(func(c *Config) *string { return &c.TokenURL })},
	{"client_id", false, setString(func(c *Config) *string { return &c.ClientID })},
	{"client_secret", false, setString(func(c *Config) *string { return &c.ClientSecret })},
	{"scope", false, setString(func(c *Config) *string { return &c.Scope })},
	{"csrf_header", false, setString(func(c *Config) *string { return &c.CSRFHeader })},
	{"store", false, setString(func(c *Config) *string { return &c.Store })},
	{"store_dir", false, setString(func(c *Config) *string { return &c.StoreDir })},
	{"redis_url", false, setString(func(c *Config) *string { return &c.RedisURL })},
	{"log_level", false, setString(func(c *Config) *string { return &c.LogLevel })},
	{"log_file", false, setString(func(c *Config) *string { return &c.LogFile })},
	{"format", false, setString(func(c *Config) *string { return &c.Format })},
	{"proxy_listen", false, setString(func(c *Config) *string { return &c.ProxyListen })},
	{"refresh_timeout", false, setDuration(func(c *Config) *time.Duration { return &c.RefreshTimeout })},
	{"request_timeout", false, setDuration(func(c *Config) *time.Duration { return &c.RequestTimeout })},
	{"auth_statuses", false, setStatuses(func(c *Config) *[]int { return &c.AuthStatuses })},
	{"forbidden_statuses", false, setStatuses(func(c *Config) *[]int { return &c.ForbiddenStatuses })},
	{"stats", false, setBool(func(c *Config) *bool { return &c.Stats })},
}

// apply sets every recognized key present in values.
func apply(cfg *Config, values map[string]any, source Source, origin string) {
	log := logging.For("config")
	for _, k := range keys {
		v, ok := values[k.name]
		if !ok || v == nil {
			continue
		}
		if k.authority && source.untrusted() {
			log.Warnf("ignoring %s from %s config at %s (authority keys are not trusted from local/repo config)", k.name, source, origin)
			continue
		}
		if err := k.apply(cfg, v); err != nil {
			log.Warnf("ignoring %s from %s: %v", k.name, origin, err)
			continue
		}
		cfg.Sources[k.name] = string(source)
	}
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	// YAML is a superset of JSON, so config.json parses here too.
	var fileCfg map[string]any
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		logging.For("config").Warnf("skipping malformed config at %s: %v", path, err)
		return
	}
	apply(cfg, fileCfg, source, path)
}

// loadDotenv applies AUTHGATE_* entries of a .env file. Real environment
// variables are applied afterwards and win.
func loadDotenv(cfg *Config, path string) {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.For("config").Warnf("skipping malformed %s: %v", path, err)
		}
		return
	}
	apply(cfg, fromEnv(func(name string) string { return env[name] }), SourceDotenv, path)
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	apply(cfg, fromEnv(os.Getenv), SourceEnv, "environment")
}

func fromEnv(getenv func(string) string) map[string]any {
	values := make(map[string]any)
	for _, k := range keys {
		if v := getenv(EnvPrefix + strings.ToUpper(k.name)); v != "" {
			values[k.name] = v
		}
	}
	return values
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.Store != "" {
		cfg.Store = o.Store
		cfg.Sources["store"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
	if o.Stats {
		cfg.Stats = true
		cfg.Sources["stats"] = string(SourceFlag)
	}
}

// Validate checks that the configuration can be used to reach the API.
func (cfg *Config) Validate() error {
	if cfg.BaseURL == "" {
		return errors.New("base_url is not configured (set AUTHGATE_BASE_URL or base_url in config)")
	}
	if err := hostutil.RequireSecureURL(cfg.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if err := hostutil.RequireSecureURL(cfg.TokenEndpoint()); err != nil {
		return fmt.Errorf("token_url: %w", err)
	}
	for _, s := range cfg.AuthStatuses {
		for _, f := range cfg.ForbiddenStatuses {
			if s == f {
				logging.For("config").Warnf("status %d is in both auth_statuses and forbidden_statuses; treating it as forbidden", s)
			}
		}
	}
	return nil
}

// TokenEndpoint returns the token URL, defaulting to /oauth/token on the API.
func (cfg *Config) TokenEndpoint() string {
	if cfg.TokenURL != "" {
		return cfg.TokenURL
	}
	if cfg.BaseURL == "" {
		return ""
	}
	return hostutil.Join(cfg.BaseURL, "/oauth/token")
}

// Namespace returns the key under which this API's session is stored.
func (cfg *Config) Namespace() string {
	return hostutil.Origin(NormalizeBaseURL(cfg.BaseURL))
}

// Scopes splits Scope on spaces and commas.
func (cfg *Config) Scopes() []string {
	return strings.FieldsFunc(cfg.Scope, func(r rune) bool { return r == ' ' || r == ',' })
}

// Value setters

func setString(field func(*Config) *string) func(*Config, any) error {
	return func(cfg *Config, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected a string, got %T", v)
		}
		if s != "" {
			*field(cfg) = s
		}
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) func(*Config, any) error {
	return func(cfg *Config, v any) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}
}

func setStatuses(field func(*Config) *[]int) func(*Config, any) error {
	return func(cfg *Config, v any) error {
		statuses, err := parseStatuses(v)
		if err != nil {
			return err
		}
		*field(cfg) = statuses
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, any) error {
	return func(cfg *Config, v any) error {
		switch b := v.(type) {
		case bool:
			*field(cfg) = b
			return nil
		case string:
			parsed, ok := parseEnvBool(b)
			if !ok {
				return fmt.Errorf("invalid boolean %q", b)
			}
			*field(cfg) = parsed
			return nil
		default:
			return fmt.Errorf("expected a boolean, got %T", v)
		}
	}
}

// parseDuration accepts Go duration strings ("45s") or whole seconds.
func parseDuration(v any) (time.Duration, error) {
	var d time.Duration
	switch val := v.(type) {
	case string:
		if secs, err := strconv.Atoi(val); err == nil {
			d = time.Duration(secs) * time.Second
		} else {
			parsed, err := time.ParseDuration(val)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", val)
			}
			d = parsed
		}
	case int:
		d = time.Duration(val) * time.Second
	case float64:
		d = time.Duration(val * float64(time.Second))
	default:
		return 0, fmt.Errorf("expected a duration, got %T", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %v", d)
	}
	return d, nil
}

// parseStatuses accepts a list of status codes or a comma-separated string.
func parseStatuses(v any) ([]int, error) {
	var raw []string
	switch val := v.(type) {
	case string:
		raw = strings.Split(val, ",")
	case int:
		return validStatuses([]int{val})
	case []any:
		out := make([]int, 0, len(val))
		for _, item := range val {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			case string:
				raw = append(raw, n)
			default:
				return nil, fmt.Errorf("invalid status %v", item)
			}
		}
		if len(raw) == 0 {
			return validStatuses(out)
		}
		v, err := parseStatuses(strings.Join(raw, ","))
		if err != nil {
			return nil, err
		}
		return validStatuses(append(out, v...))
	default:
		return nil, fmt.Errorf("expected a list of statuses, got %T", v)
	}

	out := make([]int, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid status %q", s)
		}
		out = append(out, n)
	}
	return validStatuses(out)
}

func validStatuses(statuses []int) ([]int, error) {
	if len(statuses) == 0 {
		return nil, errors.New("status list is empty")
	}
	for _, s := range statuses {
		if s < 400 || s > 599 {
			return nil, fmt.Errorf("status %d is not an HTTP error status", s)
		}
	}
	return statuses, nil
}

// parseEnvBool parses a boolean environment variable strictly.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// Path helpers

func systemConfigPath() string {
	return "/etc/authgate/config.yaml"
}

func globalConfigPaths() []string {
	dir := GlobalConfigDir()
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.yaml"),
	}
}

func repoConfigPath() string {
	// Walk up to find .git directory, then look for .authgate/config.yaml.
	// Bounded by $HOME: only search within the home directory tree.
	// If CWD is outside $HOME (e.g., /tmp), no repo config is trusted.
	dir, err := os.Getwd()
	if err != nil {
		return "" // fail closed: can't determine CWD
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "" // fail closed: can't resolve symlinks for trust boundary
	}
	dir = resolved
	home, _ := os.UserHomeDir()
	if resolved, err := filepath.EvalSymlinks(home); err == nil {
		home = resolved
	}

	if home != "" && !isInsideDir(dir, home) {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			cfgPath := filepath.Join(dir, ".authgate", "config.yaml")
			if _, err := os.Stat(cfgPath); err == nil {
				return cfgPath
			}
			return ""
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		if home != "" && dir == home {
			return ""
		}
		dir = parent
	}
}

// localConfigPath returns .authgate/config.yaml in the current directory.
func localConfigPath() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	cfgPath := filepath.Join(dir, ".authgate", "config.yaml")
	if _, err := os.Stat(cfgPath); err != nil {
		return ""
	}
	return cfgPath
}

// isInsideDir reports whether child is the same as or a subdirectory of parent.
// Both paths must be absolute and already cleaned/resolved.
func isInsideDir(child, parent string) bool {
	if child == parent {
		return true
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "authgate")
}

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
