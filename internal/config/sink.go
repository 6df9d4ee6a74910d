package config

import (
	"flag"
	"os"
	"strconv"
)

// SinkConfig configures the local report sink used as a stand-in control plane.
type SinkConfig struct {
	Address        string
	Token          string
	Key            string
	DatabaseDSN    string
	MigrationsPath string
	Retention      int
	LogLevel       string

	// AuditFile and AuditURL receive one event per accepted report when set
	AuditFile string
	AuditURL  string
}

// NewSinkConfig resolves the sink configuration from flags and environment.
func NewSinkConfig(args []string) (*SinkConfig, error) {
	config := &SinkConfig{
		Address:        "localhost:8080",
		Retention:      100,
		LogLevel:       DefaultLogLevel,
	}

	fs := flag.NewFlagSet("sink", flag.ContinueOnError)
	address := fs.String("a", config.Address, "address")
	token := fs.String("t", config.Token, "expected bearer token, empty accepts any")
	key := fs.String("k", config.Key, "key for hash verification")
	databaseDSN := fs.String("d", config.DatabaseDSN, "database dsn, empty keeps reports in memory")
	migrationsPath := fs.String("migrations", config.MigrationsPath, "directory with migration files, empty uses the embedded ones")
	retention := fs.Int("n", config.Retention, "reports kept by the in-memory store")
	logLevel := fs.String("log-level", config.LogLevel, "log level")
	auditFile := fs.String("audit-file", config.AuditFile, "file receiving audit events")
	auditURL := fs.String("audit-url", config.AuditURL, "url receiving audit events")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envVars := map[string]*string{
		"ADDRESS":         address,
		"SINK_TOKEN":      token,
		"KEY":             key,
		"DATABASE_DSN":    databaseDSN,
		"MIGRATIONS_PATH": migrationsPath,
		"LOG_LEVEL":       logLevel,
		"AUDIT_FILE":      auditFile,
		"AUDIT_URL":       auditURL,
	}
	for envVar, flag := range envVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			*flag = envValue
		}
	}

	if envRetention := os.Getenv("RETENTION"); envRetention != "" {
		value, err := strconv.Atoi(envRetention)
		if err != nil {
			return nil, err
		}
		*retention = value
	}

	config.Address = *address
	config.Token = *token
	config.Key = *key
	config.DatabaseDSN = *databaseDSN
	config.MigrationsPath = *migrationsPath
	config.Retention = *retention
	config.LogLevel = *logLevel
	config.AuditFile = *auditFile
	config.AuditURL = *auditURL

	return config, nil
}
