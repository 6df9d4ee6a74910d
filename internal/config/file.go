package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// agentFile mirrors AgentConfig in YAML form. Pointers distinguish an unset
// key from a zero value so the file only overrides what it names.
type agentFile struct {
	APIBaseURL          *string  `yaml:"api_base_url"`
	APIToken            *string  `yaml:"api_token"`
	Enabled             *bool    `yaml:"enabled"`
	ReportInterval      *string  `yaml:"report_interval"`
	ConnectTimeout      *string  `yaml:"connect_timeout"`
	ReadTimeout         *string  `yaml:"read_timeout"`
	MaxRetryAttempts    *int     `yaml:"max_retry_attempts"`
	BackoffBase         *string  `yaml:"backoff_base"`
	BackoffMax          *string  `yaml:"backoff_max"`
	ShutdownTimeout     *string  `yaml:"shutdown_timeout"`
	FinalFlushTimeout   *string  `yaml:"final_flush_timeout"`
	MaxIdentities       *int     `yaml:"max_identities"`
	MaxBufferAge        *string  `yaml:"max_buffer_age"`
	EnabledAdapters     []string `yaml:"adapters"`
	IgnoreLargeRequests *bool    `yaml:"ignore_large_requests"`
	MaxRequestSizeBytes *int64   `yaml:"max_request_size_bytes"`
	SigningKey          *string  `yaml:"signing_key"`
	Compress            *bool    `yaml:"compress"`
	InstanceID          *string  `yaml:"instance_id"`
	LogLevel            *string  `yaml:"log_level"`
}

// LoadFile overlays the YAML file at path onto c.
func (c *AgentConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return c.applyYAML(data)
}

func (c *AgentConfig) applyYAML(data []byte) error {
	var f agentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	setString(&c.APIBaseURL, f.APIBaseURL)
	setString(&c.APIToken, f.APIToken)
	setString(&c.SigningKey, f.SigningKey)
	setString(&c.InstanceID, f.InstanceID)
	setString(&c.LogLevel, f.LogLevel)
	if f.Enabled != nil {
		c.Enabled = *f.Enabled
	}
	if f.Compress != nil {
		c.Compress = *f.Compress
	}
	if f.IgnoreLargeRequests != nil {
		c.IgnoreLargeRequests = *f.IgnoreLargeRequests
	}
	if f.MaxRetryAttempts != nil {
		c.MaxRetryAttempts = *f.MaxRetryAttempts
	}
	if f.MaxIdentities != nil {
		c.MaxIdentities = *f.MaxIdentities
	}
	if f.MaxRequestSizeBytes != nil {
		c.MaxRequestSizeBytes = *f.MaxRequestSizeBytes
	}
	if f.EnabledAdapters != nil {
		c.EnabledAdapters = f.EnabledAdapters
	}

	durations := map[string]struct {
		raw   *string
		field *time.Duration
	}{
		"report_interval":     {f.ReportInterval, &c.ReportInterval},
		"connect_timeout":     {f.ConnectTimeout, &c.ConnectTimeout},
		"read_timeout":        {f.ReadTimeout, &c.ReadTimeout},
		"backoff_base":        {f.BackoffBase, &c.BackoffBase},
		"backoff_max":         {f.BackoffMax, &c.BackoffMax},
		"shutdown_timeout":    {f.ShutdownTimeout, &c.ShutdownTimeout},
		"final_flush_timeout": {f.FinalFlushTimeout, &c.FinalFlushTimeout},
		"max_buffer_age":      {f.MaxBufferAge, &c.MaxBufferAge},
	}
	for key, d := range durations {
		if d.raw == nil {
			continue
		}
		value, err := parseSeconds(*d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", key, *d.raw, err)
		}
		*d.field = value
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
