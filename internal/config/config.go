package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
)

type Config struct {
	AdminID     string // identity allowed to call privileged operations
	ListenAddr  string // HTTP API listen address
	MetricsAddr string // prometheus listen address; empty disables metrics

	DefaultCommitDuration        time.Duration // fallback commit window for create-round
	DefaultRevealDuration        time.Duration // fallback reveal window for create-round
	DefaultCancellationThreshold uint64        // turnout percent gate for auto-cancellation

	OracleURL         string // membership daemon base URL; empty selects static oracle
	StaticMembers     string // "id:weight,..." members for the static oracle
	StaticAllocations string // "id:proposal:amount,..." allocations for the static oracle

	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver
	Debug     bool   // if true: show logs, no TUI; if false: no logs, show TUI
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "warning: invalid %s %q, using %s\n", key, v, def)
		return def
	}
	return d
}

func getenvUint(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s %q, using %d\n", key, v, def)
		return def
	}
	return n
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func Load() Config {
	cfg := Config{
		AdminID:                      getenv("ADMIN_ID", "admin"),
		ListenAddr:                   getenv("LISTEN_ADDR", ":8080"),
		MetricsAddr:                  os.Getenv("METRICS_ADDR"),
		DefaultCommitDuration:        getenvDuration("DEFAULT_COMMIT_DURATION", 24*time.Hour),
		DefaultRevealDuration:        getenvDuration("DEFAULT_REVEAL_DURATION", 24*time.Hour),
		DefaultCancellationThreshold: getenvUint("DEFAULT_CANCELLATION_THRESHOLD", 50),
		OracleURL:                    os.Getenv("ORACLE_URL"),
		StaticMembers:                os.Getenv("STATIC_MEMBERS"),
		StaticAllocations:            os.Getenv("STATIC_ALLOCATIONS"),
		Debug:                        getenvBool("DEBUG", false),
	}

	if cfg.DefaultCancellationThreshold > 100 {
		fmt.Fprintf(os.Stderr, "warning: DEFAULT_CANCELLATION_THRESHOLD %d > 100, clamping to 100\n", cfg.DefaultCancellationThreshold)
		cfg.DefaultCancellationThreshold = 100
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

func (c Config) String() string {
	return fmt.Sprintf("admin=%s listen=%s db=%s", c.AdminID, c.ListenAddr, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"admin=%s listen=%s metrics=%s commit=%s reveal=%s threshold=%d oracle=%s db=%s dsn=%s",
		c.AdminID,
		c.ListenAddr,
		c.MetricsAddr,
		c.DefaultCommitDuration,
		c.DefaultRevealDuration,
		c.DefaultCancellationThreshold,
		c.OracleURL,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
