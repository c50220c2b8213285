package app

import (
	"net"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"medgate/cmd/identity"
	"medgate/cmd/internal/auth/session"
	"medgate/cmd/internal/gateway"
	"medgate/cmd/security/password"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	TCPAddr  string
	HTTPAddr string

	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// MigrateOnStart applies pending goose migrations before serving.
	MigrateOnStart bool

	RedisURL    string
	RedisPrefix string

	// If true, /readyz returns 503 while the in-memory store is in use.
	ReadinessRequireDB bool

	// If true, MEDGATE_TOKEN_HMAC_KEY must be set (>= 32 bytes) and session
	// keys are HMAC digests.
	RequireTokenHMAC bool

	Gateway  gateway.Config
	Session  session.Config
	Password password.Config
}

// LoadConfig loads Config from environment variables with defaults.
// It does not validate; call Validate after applying flag overrides.
func LoadConfig() (Config, error) {
	sess, err := session.LoadConfigFromEnv()
	if err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").In("session").Wrap(err)
	}
	pw, err := password.FromEnv()
	if err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").In("password").Wrap(err)
	}

	dbURL := EnvString("MEDGATE_DATABASE_URL", "")
	driver := DriverMemory
	if dbURL != "" {
		driver = DriverPostgres
	}

	return Config{
		TCPAddr:  EnvString("MEDGATE_TCP_ADDR", "0.0.0.0:8080"),
		HTTPAddr: EnvString("MEDGATE_HTTP_ADDR", "127.0.0.1:9090"),

		LogLevel:  EnvString("MEDGATE_LOG_LEVEL", "info"),
		LogFormat: EnvString("MEDGATE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MEDGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("MEDGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("MEDGATE_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("MEDGATE_SHUTDOWN_TIMEOUT", 10*time.Second),

		StoreDriver: strings.ToLower(EnvString("MEDGATE_STORE", driver)),
		SQLitePath:  EnvString("MEDGATE_SQLITE_PATH", "medgate.db"),
		DatabaseURL: dbURL,
		DBSchema:    EnvString("MEDGATE_DB_SCHEMA", identity.DefaultSchema),
		DBMaxConns:  EnvInt32("MEDGATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MEDGATE_DB_MIN_CONNS", 0),

		MigrateOnStart: EnvBool("MEDGATE_MIGRATE_ON_START", true),

		RedisURL:    EnvString("MEDGATE_REDIS_URL", ""),
		RedisPrefix: EnvString("MEDGATE_REDIS_PREFIX", "medgate:"),

		ReadinessRequireDB: EnvBool("MEDGATE_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("MEDGATE_REQUIRE_TOKEN_HMAC", false),

		Gateway:  gateway.ConfigFromEnv(),
		Session:  sess,
		Password: pw,
	}, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	invalid := oops.Code("CONFIG_INVALID")

	for name, addr := range map[string]string{"tcp addr": c.TCPAddr, "http addr": c.HTTPAddr} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return invalid.With("addr", addr).Wrapf(err, "%s", name)
		}
	}
	if !slices.Contains([]string{"json", "pretty"}, strings.ToLower(c.LogFormat)) {
		return invalid.Errorf("log format %q: want json or pretty", c.LogFormat)
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return invalid.Errorf("sqlite store needs MEDGATE_SQLITE_PATH")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return invalid.Errorf("postgres store needs MEDGATE_DATABASE_URL")
		}
		if !identity.ValidSchemaName(c.DBSchema) {
			return invalid.Errorf("invalid schema name %q", c.DBSchema)
		}
		if c.DBMinConns > c.DBMaxConns {
			return invalid.Errorf("db min conns %d > max conns %d", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return invalid.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if err := c.Session.Validate(); err != nil {
		return invalid.In("session").Wrap(err)
	}
	if c.Password.Policy.MinLength > c.Password.Policy.MaxLength {
		return invalid.In("password").Errorf("min length %d > max length %d",
			c.Password.Policy.MinLength, c.Password.Policy.MaxLength)
	}
	return nil
}

// RegisterFlags declares the command-line overrides shared by serve and migrate.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("tcp-addr", "0.0.0.0:8080", "TCP listen address (MEDGATE_TCP_ADDR)")
	fs.String("http-addr", "127.0.0.1:9090", "ops HTTP listen address (MEDGATE_HTTP_ADDR)")
	fs.String("log-level", "info", "debug|info|warn|error (MEDGATE_LOG_LEVEL)")
	fs.String("log-format", "json", "json|pretty (MEDGATE_LOG_FORMAT)")
	fs.String("store", DriverMemory, "memory|sqlite|postgres (MEDGATE_STORE)")
	fs.String("sqlite-path", "medgate.db", "SQLite database file (MEDGATE_SQLITE_PATH)")
	fs.String("database-url", "", "PostgreSQL URL (MEDGATE_DATABASE_URL)")
	fs.String("db-schema", identity.DefaultSchema, "PostgreSQL schema (MEDGATE_DB_SCHEMA)")
	fs.String("redis-url", "", "Redis URL for the session mirror (MEDGATE_REDIS_URL)")
	fs.Duration("session-idle-timeout", session.DefaultConfig().IdleTimeout, "session lifetime after login (MEDGATE_SESSION_IDLE_TIMEOUT)")
	fs.Int("worker-limit", gateway.DefaultConfig().WorkerLimit, "concurrent auth requests (MEDGATE_WORKER_LIMIT)")
}

// ApplyFlags copies every flag set on the command line over c.
// Flags left at their default do not override the environment.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"tcp-addr":     &c.TCPAddr,
		"http-addr":    &c.HTTPAddr,
		"log-level":    &c.LogLevel,
		"log-format":   &c.LogFormat,
		"store":        &c.StoreDriver,
		"sqlite-path":  &c.SQLitePath,
		"database-url": &c.DatabaseURL,
		"db-schema":    &c.DBSchema,
		"redis-url":    &c.RedisURL,
	}
	for name, dst := range strs {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("flag", name).Wrap(err)
		}
		*dst = v
	}

	if fs.Lookup("session-idle-timeout") != nil && fs.Changed("session-idle-timeout") {
		d, err := fs.GetDuration("session-idle-timeout")
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("flag", "session-idle-timeout").Wrap(err)
		}
		c.Session.IdleTimeout = d
	}
	if fs.Lookup("worker-limit") != nil && fs.Changed("worker-limit") {
		n, err := fs.GetInt("worker-limit")
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("flag", "worker-limit").Wrap(err)
		}
		c.Gateway.WorkerLimit = n
	}
	c.StoreDriver = strings.ToLower(c.StoreDriver)
	if fs.Lookup("store") != nil && !fs.Changed("store") && c.StoreDriver == DriverMemory && c.DatabaseURL != "" {
		c.StoreDriver = DriverPostgres
	}
	return nil
}
