// Package config provides configuration loading and validation for the
// driftwatch daemon. It handles reading configuration from files,
// providing defaults, and ensuring all required settings are properly set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftwatch/driftwatch/internal/filesys"
)

var (
	// ErrInvalidConfig wraps every validation failure so callers can
	// test for the class without matching message text.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig means no file exists at the configured path.
	ErrNoConfig = errors.New("configuration file not found")
)

// Resolver transports.
const (
	// TransportHTTPS selects DNS-over-HTTPS JSON lookups.
	TransportHTTPS = "https"
	// TransportPlain selects classic DNS queries over UDP.
	TransportPlain = "plain"
)

const (
	// DefaultSocketPath is where the daemon serves its API.
	DefaultSocketPath = "/var/run/driftwatchd.socket"
	// DefaultConfigPath is the default path for the configuration file,
	// relative to the user's home directory.
	DefaultConfigPath = ".driftwatch/config.yaml"
	// DefaultStoragePath is the default path for the state database,
	// relative to the user's home directory.
	DefaultStoragePath = ".driftwatch/state.db"
	// DefaultEndpoint is the default DNS-over-HTTPS endpoint.
	DefaultEndpoint = "https://cloudflare-dns.com/dns-query"
	// DefaultPlainAddress is the default resolver for the plain transport.
	DefaultPlainAddress = "1.1.1.1:53"
	// DefaultResolverTimeout is the default timeout for lookups.
	DefaultResolverTimeout = 5 * time.Second
	// DefaultNotificationTTL is how long notifications stay readable.
	DefaultNotificationTTL = 10 * time.Minute
	// DefaultNotificationLimit caps the notification buffer.
	DefaultNotificationLimit = 200
)

// Config is everything the daemon reads from its YAML file.
type Config struct {
	Socket        SocketConfig        `yaml:"socket"`
	Resolver      ResolverConfig      `yaml:"resolver"`
	Storage       StorageConfig       `yaml:"storage"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// SocketConfig locates the Unix socket the API is served on.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// ResolverConfig selects and tunes the lookup transport.
type ResolverConfig struct {
	Transport    string        `yaml:"transport"`
	Endpoint     string        `yaml:"endpoint"`
	PlainAddress string        `yaml:"plain_address"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StorageConfig locates the state database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// NotificationsConfig tunes the notification buffer.
type NotificationsConfig struct {
	TTL time.Duration `yaml:"ttl"`
	Max int           `yaml:"max"`
}

// Provider hands out a validated configuration. The file watcher calls
// it again on every change, so implementations must be reusable.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider loads the configuration from a YAML file.
type FSProvider struct {
	fs   filesys.LoadFS
	path string
}

var _ Provider = (*FSProvider)(nil)

// New returns a provider for the default path under the user's home
// directory, reading through the real filesystem.
func New() Provider {
	return NewWithPath(filesys.OS(), DefaultPath())
}

// NewWithPath returns a provider bound to an explicit path. Tests pass
// a mocked filesystem here.
func NewWithPath(fs filesys.LoadFS, path string) Provider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// DefaultPath returns the default configuration file location under the
// user's home directory.
func DefaultPath() string {
	return filepath.Join(homeDir(), DefaultConfigPath)
}

// Default is the configuration the daemon runs with when no file
// exists: HTTPS lookups against Cloudflare and state under the home
// directory.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			Path: DefaultSocketPath,
		},
		Resolver: ResolverConfig{
			Transport:    TransportHTTPS,
			Endpoint:     DefaultEndpoint,
			PlainAddress: DefaultPlainAddress,
			Timeout:      DefaultResolverTimeout,
		},
		Storage: StorageConfig{
			Path: filepath.Join(homeDir(), DefaultStoragePath),
		},
		Notifications: NotificationsConfig{
			TTL: DefaultNotificationTTL,
			Max: DefaultNotificationLimit,
		},
	}
}

// Load reads and validates the file, falling back to Default when the
// file does not exist. A file that exists but fails to parse or
// validate is an error, not a fallback.
func (p *FSProvider) Load() (*Config, error) {
	_ = p.ensureConfigDir()

	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Validate rejects configurations the daemon could not run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Socket.Path) == "" {
		return errors.New("socket path cannot be empty")
	}
	switch c.Resolver.Transport {
	case TransportHTTPS:
		if strings.TrimSpace(c.Resolver.Endpoint) == "" {
			return errors.New("resolver endpoint cannot be empty")
		}
	case TransportPlain:
		if strings.TrimSpace(c.Resolver.PlainAddress) == "" {
			return errors.New("plain resolver address cannot be empty")
		}
	default:
		return fmt.Errorf("resolver transport must be %q or %q", TransportHTTPS, TransportPlain)
	}
	if c.Resolver.Timeout < time.Second {
		return errors.New("resolver timeout must be at least 1 second")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage path cannot be empty")
	}
	if c.Notifications.TTL < time.Second {
		return errors.New("notification ttl must be at least 1 second")
	}
	if c.Notifications.Max < 1 {
		return errors.New("notification limit must be at least 1")
	}
	return nil
}

func (p *FSProvider) ensureConfigDir() error {
	dir := filepath.Dir(p.path)
	if _, err := p.fs.Stat(dir); os.IsNotExist(err) {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return &cfg, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// An empty prefix resolves the default paths relative to the
		// working directory, which still works.
		fmt.Fprintf(os.Stderr, "warning: no home directory, using cwd: %v\n", err)
		return ""
	}
	return home
}
