package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
)

// AgentConfig is the resolved agent configuration. It is built once by the
// host process and passed by value; nothing mutates it afterwards.
type AgentConfig struct {
	APIBaseURL string
	APIToken   string

	// Enabled switches the whole agent off when false
	Enabled bool

	ReportInterval    time.Duration
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	MaxRetryAttempts  int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ShutdownTimeout   time.Duration
	FinalFlushTimeout time.Duration

	// MaxIdentities caps the number of distinct metric identities per drain window
	MaxIdentities int

	// MaxBufferAge stops collection when the buffer has not been drained for this long
	MaxBufferAge time.Duration

	EnabledAdapters []string

	// IgnoreLargeRequests skips queue time for bodies above MaxRequestSizeBytes,
	// since their upload time inflates the measurement.
	IgnoreLargeRequests bool
	MaxRequestSizeBytes int64

	// SigningKey, when set, adds an HMAC-SHA256 of the body in the HashSHA256 header
	SigningKey string

	// Compress gzips report bodies
	Compress bool

	InstanceID string
	LogLevel   string
}

// DefaultAgentConfig returns the configuration used when nothing is overridden.
func DefaultAgentConfig() AgentConfig {
	adapters := make([]string, len(AllAdapters))
	copy(adapters, AllAdapters)
	return AgentConfig{
		Enabled:             true,
		ReportInterval:      DefaultReportInterval,
		ConnectTimeout:      DefaultConnectTimeout,
		ReadTimeout:         DefaultReadTimeout,
		MaxRetryAttempts:    DefaultMaxRetryAttempts,
		BackoffBase:         DefaultBackoffBase,
		BackoffMax:          DefaultBackoffMax,
		ShutdownTimeout:     DefaultShutdownTimeout,
		FinalFlushTimeout:   DefaultFinalFlushTimeout,
		MaxIdentities:       DefaultMaxIdentities,
		MaxBufferAge:        DefaultMaxBufferAge,
		EnabledAdapters:     adapters,
		IgnoreLargeRequests: true,
		MaxRequestSizeBytes: DefaultMaxRequestSizeBytes,
		Compress:            true,
		LogLevel:            DefaultLogLevel,
	}
}

// NewAgentConfig resolves the agent configuration from defaults, an optional
// YAML file, command-line flags and SCALEAGENT_* environment variables, in
// that order of precedence.
func NewAgentConfig(args []string) (AgentConfig, error) {
	config := DefaultAgentConfig()

	fs := flag.NewFlagSet("scaleagent", flag.ContinueOnError)
	configPath := fs.String("c", "", "Path to a YAML config file")
	apiURL := fs.String("u", config.APIBaseURL, "Control plane base url")
	token := fs.String("t", config.APIToken, "API token")
	reportInterval := fs.Duration("r", config.ReportInterval, "Report interval")
	maxRetries := fs.Int("m", config.MaxRetryAttempts, "Maximum send attempts per report")
	adapters := fs.String("adapters", strings.Join(config.EnabledAdapters, ","), "Comma-separated enabled adapters")
	key := fs.String("k", config.SigningKey, "Key for hash")
	logLevel := fs.String("log-level", config.LogLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		return AgentConfig{}, err
	}

	path := *configPath
	if envValue := os.Getenv("SCALEAGENT_CONFIG"); envValue != "" {
		path = envValue
	}
	if path != "" {
		if err := config.LoadFile(path); err != nil {
			return AgentConfig{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "u":
			config.APIBaseURL = *apiURL
		case "t":
			config.APIToken = *token
		case "r":
			config.ReportInterval = *reportInterval
		case "m":
			config.MaxRetryAttempts = *maxRetries
		case "adapters":
			config.EnabledAdapters = splitList(*adapters)
		case "k":
			config.SigningKey = *key
		case "log-level":
			config.LogLevel = *logLevel
		}
	})

	if err := config.applyEnv(); err != nil {
		return AgentConfig{}, err
	}
	if config.InstanceID == "" {
		config.InstanceID = instanceIDFromEnv()
	}

	return config.Normalize(), nil
}

func (c *AgentConfig) applyEnv() error {
	envStrVars := map[string]*string{
		"SCALEAGENT_URL":         &c.APIBaseURL,
		"SCALEAGENT_TOKEN":       &c.APIToken,
		"SCALEAGENT_KEY":         &c.SigningKey,
		"SCALEAGENT_LOG_LEVEL":   &c.LogLevel,
		"SCALEAGENT_INSTANCE_ID": &c.InstanceID,
	}
	envIntVars := map[string]*int{
		"SCALEAGENT_MAX_RETRIES":    &c.MaxRetryAttempts,
		"SCALEAGENT_MAX_IDENTITIES": &c.MaxIdentities,
	}
	envDurationVars := map[string]*time.Duration{
		"SCALEAGENT_REPORT_INTERVAL":  &c.ReportInterval,
		"SCALEAGENT_SHUTDOWN_TIMEOUT": &c.ShutdownTimeout,
	}
	envBoolVars := map[string]*bool{
		"SCALEAGENT_ENABLED":               &c.Enabled,
		"SCALEAGENT_COMPRESS":              &c.Compress,
		"SCALEAGENT_IGNORE_LARGE_REQUESTS": &c.IgnoreLargeRequests,
	}

	for envVar, field := range envStrVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			*field = envValue
		}
	}
	for envVar, field := range envIntVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			value, err := strconv.Atoi(envValue)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", envVar, envValue, err)
			}
			*field = value
		}
	}
	for envVar, field := range envDurationVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			value, err := parseSeconds(envValue)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", envVar, envValue, err)
			}
			*field = value
		}
	}
	for envVar, field := range envBoolVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			value, err := strconv.ParseBool(envValue)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", envVar, envValue, err)
			}
			*field = value
		}
	}
	if envValue := os.Getenv("SCALEAGENT_ADAPTERS"); envValue != "" {
		c.EnabledAdapters = splitList(envValue)
	}
	return nil
}

// Normalize replaces non-positive tunables with their defaults.
func (c AgentConfig) Normalize() AgentConfig {
	defaults := DefaultAgentConfig()
	if c.ReportInterval <= 0 {
		c.ReportInterval = defaults.ReportInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.MaxRetryAttempts < 1 {
		c.MaxRetryAttempts = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.FinalFlushTimeout <= 0 || c.FinalFlushTimeout > c.ShutdownTimeout {
		c.FinalFlushTimeout = min(defaults.FinalFlushTimeout, c.ShutdownTimeout)
	}
	if c.MaxIdentities <= 0 {
		c.MaxIdentities = defaults.MaxIdentities
	}
	if c.MaxBufferAge <= 0 {
		c.MaxBufferAge = defaults.MaxBufferAge
	}
	if c.MaxRequestSizeBytes <= 0 {
		c.MaxRequestSizeBytes = defaults.MaxRequestSizeBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if floor := c.MinBufferAge(); c.MaxBufferAge < floor {
		c.MaxBufferAge = floor
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.APIToken = strings.TrimSpace(c.APIToken)
	adapters := make([]string, len(c.EnabledAdapters))
	copy(adapters, c.EnabledAdapters)
	c.EnabledAdapters = adapters
	return c
}

// BackoffDelay returns the wait before retry number attempt (1-based):
// BackoffBase * 2^(attempt-1), capped at BackoffMax.
func (c AgentConfig) BackoffDelay(attempt int) time.Duration {
	delay := c.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.BackoffMax || delay <= 0 {
			return c.BackoffMax
		}
	}
	return min(delay, c.BackoffMax)
}

// DeliveryBudget is the longest one report cycle can spend delivering: every
// attempt running into both timeouts plus every backoff wait between them.
func (c AgentConfig) DeliveryBudget() time.Duration {
	budget := time.Duration(c.MaxRetryAttempts) * (c.ConnectTimeout + c.ReadTimeout)
	for attempt := 1; attempt < c.MaxRetryAttempts; attempt++ {
		budget += c.BackoffDelay(attempt)
	}
	return budget
}

// MinBufferAge is the shortest MaxBufferAge that never trips the stale guard
// while the reporter is healthy: two report intervals plus a full delivery
// budget can pass between drains.
func (c AgentConfig) MinBufferAge() time.Duration {
	return 2*c.ReportInterval + c.DeliveryBudget()
}

// Validate reports every problem that prevents the agent from sending reports.
func (c AgentConfig) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, internalerrors.ErrMissingEndpoint)
	} else if u, err := url.Parse(c.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%w: %q", internalerrors.ErrInvalidEndpoint, c.APIBaseURL))
	}
	if c.APIToken == "" {
		errs = append(errs, internalerrors.ErrMissingToken)
	}
	return errors.Join(errs...)
}

// ReportingEnabled is false when the agent should collect without sending.
func (c AgentConfig) ReportingEnabled() bool {
	return c.Enabled && c.Validate() == nil
}

// ReportURL is the full url reports are posted to.
func (c AgentConfig) ReportURL() string {
	return c.APIBaseURL + ReportPath
}

// AdapterEnabled reports whether the named adapter is in the enabled set.
func (c AgentConfig) AdapterEnabled(name string) bool {
	for _, a := range c.EnabledAdapters {
		if a == name {
			return true
		}
	}
	return false
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// instanceIDFromEnv picks up the platform-provided instance name, if any.
func instanceIDFromEnv() string {
	for _, envVar := range []string{"DYNO", "RENDER_INSTANCE_ID", "HOSTNAME"} {
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
	}
	return ""
}

// parseSeconds accepts either a Go duration ("5s") or a bare number of seconds.
func parseSeconds(value string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
