package mcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config describes how to reach a server. It can be loaded from a YAML file with LoadConfig, and
// every scalar field can be overridden from the environment.
type Config struct {
	Endpoint        string            `yaml:"endpoint" env:"MCP_ENDPOINT"`
	ProtocolVersion string            `yaml:"protocol_version" env:"MCP_PROTOCOL_VERSION"`
	Headers         map[string]string `yaml:"headers"`
	MaxEventSize    int               `yaml:"max_event_size" env:"MCP_MAX_EVENT_SIZE"`

	RequestTimeout    time.Duration `yaml:"-" env:"MCP_REQUEST_TIMEOUT"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`

	Client  ClientInfoConfig `yaml:"client"`
	Logging LoggingConfig    `yaml:"logging"`
}

// ClientInfoConfig is the identity the client announces during initialization.
type ClientInfoConfig struct {
	Name    string `yaml:"name" env:"MCP_CLIENT_NAME"`
	Version string `yaml:"version" env:"MCP_CLIENT_VERSION"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MCP_LOG_LEVEL"`
	Format string `yaml:"format" env:"MCP_LOG_FORMAT"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultConfig returns the configuration used for every field left unset.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion: DefaultProtocolVersion,
		MaxEventSize:    defaultMaxEventSize,
		RequestTimeout:  defaultRequestTimeout,
		Client: ClientInfoConfig{
			Name:    "mcpx",
			Version: "0.1.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads the configuration with ReadConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ReadConfig reads the YAML file at path, when path is not empty, then applies environment
// overrides. Variables in the format ${VAR_NAME} are expanded in the file before parsing.
// The result is not validated, so callers can apply their own overrides first.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
		if cfg.RequestTimeoutRaw != "" {
			d, err := time.ParseDuration(cfg.RequestTimeoutRaw)
			if err != nil {
				return Config{}, fmt.Errorf("parsing request_timeout %q: %w", cfg.RequestTimeoutRaw, err)
			}
			cfg.RequestTimeout = d
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxEventSize < 0 {
		return fmt.Errorf("max_event_size must not be negative, got %d", c.MaxEventSize)
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// TransportOptions converts the configuration into options for NewHTTPTransport.
func (c Config) TransportOptions() []TransportOption {
	opts := []TransportOption{
		WithRequestTimeout(c.RequestTimeout),
		WithMaxEventSize(c.MaxEventSize),
	}
	if c.ProtocolVersion != "" {
		opts = append(opts, WithProtocolVersion(c.ProtocolVersion))
	}
	for key, value := range c.Headers {
		opts = append(opts, WithHeader(key, value))
	}
	return opts
}

// Info returns the client identity to announce.
func (c Config) Info() Info {
	return Info{Name: c.Client.Name, Version: c.Client.Version}
}

// NewLogger builds the logger described by the logging section, writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLogLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewClientFromConfig builds a transport and a client from cfg.
func NewClientFromConfig(cfg Config, logger *slog.Logger, options ...ClientOption) *Client {
	transportOpts := append(cfg.TransportOptions(), WithTransportLogger(logger))
	transport := NewHTTPTransport(cfg.Endpoint, transportOpts...)
	return NewClient(cfg.Info(), transport, append([]ClientOption{WithLogger(logger)}, options...)...)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown logging.level %q", s)
	}
	return level, nil
}
