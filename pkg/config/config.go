package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Portals    PortalsConfig
	Resilience ResilienceConfig
	Recon      ReconConfig
	Batch      BatchConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYHOOK_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYHOOK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAYHOOK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYHOOK_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"PAYHOOK_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PAYHOOK_DB_DSN"`
	Driver string `envconfig:"PAYHOOK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYHOOK_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYHOOK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYHOOK_DB_USER"`
	LegacyPassword string `envconfig:"PAYHOOK_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYHOOK_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYHOOK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYHOOK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYHOOK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYHOOK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYHOOK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYHOOK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYHOOK_REDIS_ADDR"`
	Password     string        `envconfig:"PAYHOOK_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYHOOK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYHOOK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYHOOK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYHOOK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYHOOK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYHOOK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PortalsConfig carries the per-aggregator credentials and the site-wide
// order reference prefix embedded in transfer descriptions.
type PortalsConfig struct {
	OrderPrefix string `envconfig:"PAYHOOK_ORDER_PREFIX" default:"DH"`

	SepayAPIKey    string        `envconfig:"PAYHOOK_SEPAY_API_KEY"`
	CassoToken     string        `envconfig:"PAYHOOK_CASSO_SECURE_TOKEN"`
	PayosSecret    string        `envconfig:"PAYHOOK_PAYOS_CHECKSUM_KEY"`
	PayosClockSkew time.Duration `envconfig:"PAYHOOK_PAYOS_CLOCK_SKEW" default:"5m"`
}

// SecretFor returns the configured credential for a portal name, empty when
// the portal is unknown or unconfigured.
func (p PortalsConfig) SecretFor(portal string) string {
	switch strings.ToLower(portal) {
	case "sepay":
		return p.SepayAPIKey
	case "casso":
		return p.CassoToken
	case "payos":
		return p.PayosSecret
	default:
		return ""
	}
}

type ResilienceConfig struct {
	FailureThreshold     int           `envconfig:"PAYHOOK_CB_FAILURE_THRESHOLD" default:"5"`
	BulkFailureThreshold int           `envconfig:"PAYHOOK_CB_BULK_FAILURE_THRESHOLD" default:"12"`
	SuccessThreshold     int           `envconfig:"PAYHOOK_CB_SUCCESS_THRESHOLD" default:"2"`
	ResetTimeout         time.Duration `envconfig:"PAYHOOK_CB_RESET_TIMEOUT" default:"30s"`
	BulkResetTimeout     time.Duration `envconfig:"PAYHOOK_CB_BULK_RESET_TIMEOUT" default:"90s"`
	ForgivenessWindow    time.Duration `envconfig:"PAYHOOK_CB_FORGIVENESS_WINDOW" default:"30s"`
	ExemptOperation      string        `envconfig:"PAYHOOK_CB_EXEMPT_OPERATION"`
	RetryMaxAttempts     int           `envconfig:"PAYHOOK_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff  time.Duration `envconfig:"PAYHOOK_RETRY_INITIAL_BACKOFF" default:"200ms"`
	RetryMaximumBackoff  time.Duration `envconfig:"PAYHOOK_RETRY_MAXIMUM_BACKOFF" default:"2s"`
	CallTimeout          time.Duration `envconfig:"PAYHOOK_CALL_TIMEOUT" default:"5s"`
	CallTimeoutCeiling   time.Duration `envconfig:"PAYHOOK_CALL_TIMEOUT_CEILING" default:"20s"`
}

type ReconConfig struct {
	FallbackBankAccount   string        `envconfig:"PAYHOOK_FALLBACK_BANK_ACCOUNT"`
	RetroactiveOrders     bool          `envconfig:"PAYHOOK_RETROACTIVE_ORDERS" default:"false"`
	OrderRetryFirstDelay  time.Duration `envconfig:"PAYHOOK_ORDER_RETRY_FIRST_DELAY" default:"150ms"`
	OrderRetrySecondDelay time.Duration `envconfig:"PAYHOOK_ORDER_RETRY_SECOND_DELAY" default:"350ms"`
	BalanceRetryAttempts  int           `envconfig:"PAYHOOK_BALANCE_RETRY_ATTEMPTS" default:"5"`
	BalanceRetryDelay     time.Duration `envconfig:"PAYHOOK_BALANCE_RETRY_DELAY" default:"25ms"`
}

type BatchConfig struct {
	ParallelLimit   int           `envconfig:"PAYHOOK_BATCH_PARALLEL_LIMIT" default:"15"`
	ChunkSize       int           `envconfig:"PAYHOOK_BATCH_CHUNK_SIZE" default:"12"`
	SerialThreshold int           `envconfig:"PAYHOOK_BATCH_SERIAL_THRESHOLD" default:"100"`
	SerialChunkSize int           `envconfig:"PAYHOOK_BATCH_SERIAL_CHUNK_SIZE" default:"5"`
	InterChunkDelay time.Duration `envconfig:"PAYHOOK_BATCH_INTER_CHUNK_DELAY" default:"100ms"`
}

// RateLimitConfig throttles webhook deliveries per portal. A zero limit
// disables the throttle.
type RateLimitConfig struct {
	WebhookLimit  int64         `envconfig:"PAYHOOK_WEBHOOK_RATE_LIMIT" default:"0"`
	WebhookWindow time.Duration `envconfig:"PAYHOOK_WEBHOOK_RATE_WINDOW" default:"1m"`
}

type CacheConfig struct {
	Disabled     bool          `envconfig:"PAYHOOK_CACHE_DISABLED" default:"false"`
	BankTTL      time.Duration `envconfig:"PAYHOOK_CACHE_BANK_TTL" default:"10m"`
	ReferenceTTL time.Duration `envconfig:"PAYHOOK_CACHE_REFERENCE_TTL" default:"30m"`
	DuplicateTTL time.Duration `envconfig:"PAYHOOK_CACHE_DUPLICATE_TTL" default:"720h"`
	MaxEntries   int           `envconfig:"PAYHOOK_CACHE_MAX_ENTRIES" default:"2048"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
