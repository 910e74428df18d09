// Package config loads and persists wordsync settings.
//
// Settings live in a YAML file. WORDSYNC_* environment variables override
// the file when Load reads it; Save writes only what the file held plus
// changes made through the setters.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/sync/resolver"
	"github.com/zeusync/wordsync/sdk/go/client"
)

var (
	ErrInvalidURL      = errors.New("invalid sync URL")
	ErrInvalidIdentity = errors.New("invalid identity")
)

type Config struct {
	Sync         SyncConfig      `yaml:"sync"`
	Identity     models.Identity `yaml:"identity"`
	IgnoredSites []string        `yaml:"ignored_sites"`
	Storage      storage.Options `yaml:"storage"`
	Log          LogConfig       `yaml:"log"`
	Server       ServerConfig    `yaml:"server"`
}

type SyncConfig struct {
	EndpointURL      string        `yaml:"endpoint_url"`
	Enabled          bool          `yaml:"enabled"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`
	// Interval between scheduled syncs; zero disables the scheduler.
	Interval time.Duration `yaml:"interval"`
	// FeedURL defaults to the websocket address next to EndpointURL.
	FeedURL  string `yaml:"feed_url,omitempty"`
	Strategy string `yaml:"strategy"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// Storage for the reference server. A file path names a directory that
	// gets one document per user; a redis key is used as a prefix.
	Storage storage.Options `yaml:"storage"`
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			EndpointURL:      client.DefaultEndpoint,
			Enabled:          false,
			Timeout:          10 * time.Second,
			MaxRetries:       3,
			RetryInterval:    500 * time.Millisecond,
			MaxRetryInterval: 10 * time.Second,
			Interval:         5 * time.Minute,
			Strategy:         resolver.StrategyServerWins.String(),
		},
		IgnoredSites: []string{},
		Storage: storage.Options{
			Driver: storage.DriverFile,
			Path:   filepath.Join(DefaultDir(), "words.json"),
		},
		Log: LogConfig{
			Level:      "info",
			Encoding:   "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			Storage:    storage.Options{Driver: storage.DriverMemory},
		},
	}
}

// DefaultDir is $XDG_CONFIG_HOME/wordsync, or the platform equivalent.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "wordsync")
	}
	return ".wordsync"
}

func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile is Load without environment overrides, for editing the file.
func LoadFile(path string) (*Config, error) {
	return loadFile(path)
}

func loadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.IgnoredSites == nil {
		cfg.IgnoredSites = []string{}
	}
	return cfg, nil
}

// Save writes the config atomically, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return errors.Wrap(err, "save config")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "save config")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "save config")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "save config")
}

func (c *Config) Validate() error {
	if c.Sync.EndpointURL != "" {
		if err := validateURL(c.Sync.EndpointURL); err != nil {
			return err
		}
	}
	if _, err := resolver.ParseStrategy(c.Sync.Strategy); err != nil {
		return errors.Wrap(err, "sync.strategy")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}
	switch c.Storage.Driver {
	case "", storage.DriverMemory, storage.DriverFile, storage.DriverSQLite, storage.DriverRedis:
	default:
		return errors.Wrapf(storage.ErrUnknownDriver, "storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// SetEndpoint stores a new sync URL. It must be an absolute http(s) URL.
func (c *Config) SetEndpoint(raw string) error {
	raw = strings.TrimSpace(raw)
	if err := validateURL(raw); err != nil {
		return err
	}
	c.Sync.EndpointURL = raw
	return nil
}

func (c *Config) SetIdentity(id int64, name string) error {
	identity := models.Identity{ID: id, Name: strings.TrimSpace(name)}
	if id <= 0 || identity.IsZero() {
		return errors.Wrapf(ErrInvalidIdentity, "id=%d name=%q", id, name)
	}
	c.Identity = identity
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.Wrap(ErrInvalidURL, "URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(ErrInvalidURL, err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Wrapf(ErrInvalidURL, "%q is not an absolute http(s) URL", raw)
	}
	return nil
}

// IgnoreSite adds a site to the ignore list. It reports false if the site
// was already there.
func (c *Config) IgnoreSite(site string) bool {
	host := siteHost(site)
	if host == "" || slices.Contains(c.IgnoredSites, host) {
		return false
	}
	c.IgnoredSites = append(c.IgnoredSites, host)
	return true
}

func (c *Config) UnignoreSite(site string) bool {
	host := siteHost(site)
	i := slices.Index(c.IgnoredSites, host)
	if i < 0 {
		return false
	}
	c.IgnoredSites = slices.Delete(c.IgnoredSites, i, i+1)
	return true
}

// IsIgnored matches a page URL or bare host name against the ignore list.
func (c *Config) IsIgnored(site string) bool {
	host := siteHost(site)
	return host != "" && slices.Contains(c.IgnoredSites, host)
}

// siteHost reduces a URL to its host name; bare names are lowercased.
func siteHost(site string) string {
	site = strings.TrimSpace(site)
	if strings.Contains(site, "://") {
		if u, err := url.Parse(site); err == nil {
			return strings.ToLower(u.Hostname())
		}
	}
	return strings.ToLower(strings.TrimSuffix(site, "/"))
}

// ClientConfig converts the sync and identity sections for the SDK.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		Endpoint:         c.Sync.EndpointURL,
		Identity:         c.Identity,
		Enabled:          c.Sync.Enabled,
		Timeout:          c.Sync.Timeout,
		MaxRetries:       c.Sync.MaxRetries,
		RetryInterval:    c.Sync.RetryInterval,
		MaxRetryInterval: c.Sync.MaxRetryInterval,
		LogLevel:         log.ParseLevel(c.Log.Level),
	}
}

func (c *Config) Strategy() resolver.Strategy {
	s, err := resolver.ParseStrategy(c.Sync.Strategy)
	if err != nil {
		return resolver.StrategyServerWins
	}
	return s
}

func (c *Config) LogOptions() log.Options {
	return log.Options{
		Level:      log.ParseLevel(c.Log.Level),
		Encoding:   c.Log.Encoding,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("WORDSYNC_SYNC_URL", &c.Sync.EndpointURL)
	str("WORDSYNC_USER_NAME", &c.Identity.Name)
	str("WORDSYNC_STORAGE_DRIVER", &c.Storage.Driver)
	str("WORDSYNC_STORAGE_PATH", &c.Storage.Path)
	str("WORDSYNC_REDIS_URL", &c.Storage.RedisURL)
	str("WORDSYNC_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("WORDSYNC_SYNC_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WORDSYNC_SYNC_ENABLED: %w", err)
		}
		c.Sync.Enabled = enabled
	}
	if v, ok := lookup("WORDSYNC_USER_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("WORDSYNC_USER_ID: %w", err)
		}
		c.Identity.ID = id
	}
	return nil
}
