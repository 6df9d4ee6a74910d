package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
)

var agentEnvVars = []string{
	"SCALEAGENT_URL", "SCALEAGENT_TOKEN", "SCALEAGENT_KEY", "SCALEAGENT_LOG_LEVEL",
	"SCALEAGENT_INSTANCE_ID", "SCALEAGENT_MAX_RETRIES", "SCALEAGENT_MAX_IDENTITIES",
	"SCALEAGENT_REPORT_INTERVAL", "SCALEAGENT_SHUTDOWN_TIMEOUT", "SCALEAGENT_ENABLED",
	"SCALEAGENT_COMPRESS", "SCALEAGENT_IGNORE_LARGE_REQUESTS", "SCALEAGENT_ADAPTERS",
	"SCALEAGENT_CONFIG", "DYNO", "RENDER_INSTANCE_ID", "HOSTNAME",
}

func clearAgentEnv(t *testing.T) {
	t.Helper()
	for _, envVar := range agentEnvVars {
		t.Setenv(envVar, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scaleagent.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewAgentConfig_Defaults(t *testing.T) {
	clearAgentEnv(t)

	cfg, err := NewAgentConfig(nil)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, DefaultReportInterval, cfg.ReportInterval)
	assert.Equal(t, DefaultMaxRetryAttempts, cfg.MaxRetryAttempts)
	assert.Equal(t, DefaultBackoffBase, cfg.BackoffBase)
	assert.Equal(t, DefaultBackoffMax, cfg.BackoffMax)
	assert.Equal(t, DefaultMaxIdentities, cfg.MaxIdentities)
	assert.Equal(t, DefaultMaxBufferAge, cfg.MaxBufferAge)
	assert.Equal(t, AllAdapters, cfg.EnabledAdapters)
	assert.False(t, cfg.ReportingEnabled())
}

func TestNewAgentConfig_Precedence(t *testing.T) {
	clearAgentEnv(t)
	path := writeConfigFile(t, `
api_base_url: https://file.example.com/
api_token: file-token
report_interval: "30"
max_retry_attempts: 5
backoff_max: 1m
adapters: [queue_time]
signing_key: file-key
`)

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := NewAgentConfig([]string{"-c", path})
		require.NoError(t, err)
		assert.Equal(t, "https://file.example.com", cfg.APIBaseURL)
		assert.Equal(t, "file-token", cfg.APIToken)
		assert.Equal(t, 30*time.Second, cfg.ReportInterval)
		assert.Equal(t, 5, cfg.MaxRetryAttempts)
		assert.Equal(t, time.Minute, cfg.BackoffMax)
		assert.Equal(t, []string{AdapterQueueTime}, cfg.EnabledAdapters)
		assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
		assert.True(t, cfg.ReportingEnabled())
	})

	t.Run("flags over file", func(t *testing.T) {
		cfg, err := NewAgentConfig([]string{"-c", path, "-t", "flag-token", "-r", "10s", "-adapters", "job_queue, concurrency"})
		require.NoError(t, err)
		assert.Equal(t, "flag-token", cfg.APIToken)
		assert.Equal(t, 10*time.Second, cfg.ReportInterval)
		assert.Equal(t, []string{AdapterJobQueue, AdapterConcurrency}, cfg.EnabledAdapters)
		assert.Equal(t, "file-key", cfg.SigningKey)
	})

	t.Run("env over flags", func(t *testing.T) {
		t.Setenv("SCALEAGENT_TOKEN", "env-token")
		t.Setenv("SCALEAGENT_REPORT_INTERVAL", "15")
		t.Setenv("SCALEAGENT_ENABLED", "false")
		cfg, err := NewAgentConfig([]string{"-c", path, "-t", "flag-token", "-r", "10s"})
		require.NoError(t, err)
		assert.Equal(t, "env-token", cfg.APIToken)
		assert.Equal(t, 15*time.Second, cfg.ReportInterval)
		assert.False(t, cfg.Enabled)
		assert.False(t, cfg.ReportingEnabled())
	})

	t.Run("config path from env", func(t *testing.T) {
		t.Setenv("SCALEAGENT_CONFIG", path)
		cfg, err := NewAgentConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, "file-token", cfg.APIToken)
	})
}

func TestNewAgentConfig_Errors(t *testing.T) {
	clearAgentEnv(t)

	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "bad retries", env: map[string]string{"SCALEAGENT_MAX_RETRIES": "many"}},
		{name: "bad interval", env: map[string]string{"SCALEAGENT_REPORT_INTERVAL": "soon"}},
		{name: "bad bool", env: map[string]string{"SCALEAGENT_ENABLED": "maybe"}},
		{name: "missing file", args: []string{"-c", filepath.Join(t.TempDir(), "absent.yml")}},
		{name: "bad yaml duration", args: []string{"-c", writeConfigFile(t, "backoff_base: later\n")}},
		{name: "malformed yaml", args: []string{"-c", writeConfigFile(t, "api_token: [unterminated\n")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewAgentConfig(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestNewAgentConfig_InstanceID(t *testing.T) {
	clearAgentEnv(t)

	t.Setenv("HOSTNAME", "web-7f9c")
	cfg, err := NewAgentConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "web-7f9c", cfg.InstanceID)

	t.Setenv("DYNO", "web.1")
	cfg, err = NewAgentConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "web.1", cfg.InstanceID)

	t.Setenv("SCALEAGENT_INSTANCE_ID", "explicit")
	cfg, err = NewAgentConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.InstanceID)
}

func TestNormalize(t *testing.T) {
	cfg := AgentConfig{
		APIBaseURL:        "  https://api.example.com//  ",
		APIToken:          " token ",
		MaxRetryAttempts:  0,
		BackoffBase:       2 * time.Second,
		BackoffMax:        time.Second,
		ShutdownTimeout:   time.Second,
		FinalFlushTimeout: 3 * time.Second,
		EnabledAdapters:   []string{AdapterJobQueue},
	}.Normalize()

	assert.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	assert.Equal(t, "token", cfg.APIToken)
	assert.Equal(t, 1, cfg.MaxRetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.BackoffMax)
	assert.Equal(t, time.Second, cfg.FinalFlushTimeout)
	assert.Equal(t, DefaultReportInterval, cfg.ReportInterval)
	assert.Equal(t, DefaultMaxIdentities, cfg.MaxIdentities)
	assert.Equal(t, int64(DefaultMaxRequestSizeBytes), cfg.MaxRequestSizeBytes)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "https://api.example.com/v3/reports", cfg.ReportURL())
}

func TestNormalize_CopiesAdapters(t *testing.T) {
	adapters := []string{AdapterQueueTime}
	cfg := AgentConfig{EnabledAdapters: adapters}.Normalize()
	adapters[0] = "mutated"
	assert.True(t, cfg.AdapterEnabled(AdapterQueueTime))
	assert.False(t, cfg.AdapterEnabled(AdapterJobQueue))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		token   string
		wantErr []error
	}{
		{name: "valid", url: "https://api.example.com", token: "t"},
		{name: "missing url", token: "t", wantErr: []error{internalerrors.ErrMissingEndpoint}},
		{name: "missing token", url: "http://localhost:8080", wantErr: []error{internalerrors.ErrMissingToken}},
		{name: "relative url", url: "api.example.com", token: "t", wantErr: []error{internalerrors.ErrInvalidEndpoint}},
		{name: "ftp url", url: "ftp://api.example.com", token: "t", wantErr: []error{internalerrors.ErrInvalidEndpoint}},
		{
			name:    "nothing set",
			wantErr: []error{internalerrors.ErrMissingEndpoint, internalerrors.ErrMissingToken},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAgentConfig()
			cfg.APIBaseURL = tt.url
			cfg.APIToken = tt.token
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				assert.True(t, cfg.ReportingEnabled())
				return
			}
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
			assert.False(t, cfg.ReportingEnabled())
		})
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5", want: 5 * time.Second},
		{in: "250ms", want: 250 * time.Millisecond},
		{in: "2m", want: 2 * time.Minute},
		{in: "five", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseSeconds(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("chatty")
	assert.Error(t, err)
}

func TestNewSinkConfig(t *testing.T) {
	for _, envVar := range []string{"ADDRESS", "SINK_TOKEN", "KEY", "DATABASE_DSN", "MIGRATIONS_PATH", "LOG_LEVEL", "RETENTION", "AUDIT_FILE", "AUDIT_URL"} {
		t.Setenv(envVar, "")
	}

	cfg, err := NewSinkConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Address)
	assert.Equal(t, 100, cfg.Retention)
	assert.Empty(t, cfg.MigrationsPath)

	cfg, err = NewSinkConfig([]string{"-a", ":9000", "-t", "flag-token", "-n", "5"})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Address)
	assert.Equal(t, "flag-token", cfg.Token)
	assert.Equal(t, 5, cfg.Retention)

	t.Setenv("SINK_TOKEN", "env-token")
	t.Setenv("RETENTION", "7")
	t.Setenv("AUDIT_URL", "http://audit.local/events")
	cfg, err = NewSinkConfig([]string{"-t", "flag-token", "-audit-file", "audit.log"})
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, 7, cfg.Retention)
	assert.Equal(t, "audit.log", cfg.AuditFile)
	assert.Equal(t, "http://audit.local/events", cfg.AuditURL)

	t.Setenv("RETENTION", "lots")
	_, err = NewSinkConfig(nil)
	assert.Error(t, err)
}

func TestNormalize_BufferAgeCoversReportCycle(t *testing.T) {
	t.Run("defaults keep the two minute guard", func(t *testing.T) {
		cfg := DefaultAgentConfig().Normalize()
		assert.Equal(t, DefaultMaxBufferAge, cfg.MaxBufferAge)
		assert.Less(t, cfg.MinBufferAge(), DefaultMaxBufferAge)
	})

	t.Run("long report interval", func(t *testing.T) {
		cfg := DefaultAgentConfig()
		cfg.ReportInterval = 3 * time.Minute
		cfg = cfg.Normalize()
		assert.Equal(t, cfg.MinBufferAge(), cfg.MaxBufferAge)
		assert.Greater(t, cfg.MaxBufferAge, 2*cfg.ReportInterval)
	})

	t.Run("long retry chain", func(t *testing.T) {
		cfg := DefaultAgentConfig()
		cfg.MaxRetryAttempts = 8
		cfg.ReadTimeout = 15 * time.Second
		cfg = cfg.Normalize()
		// 8 * (5s + 15s) + 1+2+4+8+16+30+30s of backoff
		assert.Equal(t, 160*time.Second+91*time.Second, cfg.DeliveryBudget())
		assert.Equal(t, 2*cfg.ReportInterval+cfg.DeliveryBudget(), cfg.MaxBufferAge)
	})

	t.Run("larger explicit age is kept", func(t *testing.T) {
		cfg := DefaultAgentConfig()
		cfg.MaxBufferAge = time.Hour
		assert.Equal(t, time.Hour, cfg.Normalize().MaxBufferAge)
	})
}

func TestBackoffDelay(t *testing.T) {
	cfg := DefaultAgentConfig().Normalize()
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, cfg.BackoffDelay(i+1), "attempt %d", i+1)
	}
}
