// config/config.go
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
	EnvSandbox    = "sandbox"
	EnvProduction = "production"

	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Mpesa    MpesaConfig
	Token    TokenConfig
	Auth     AuthConfig
	Session  SessionConfig
	Pricing  PricingConfig
	Tracing  TracingConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// Enabled reports whether a PostgreSQL store is configured; otherwise the
// service keeps state in memory.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers       []string
	StatusTopic   string
	PurchaseTopic string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type MpesaConfig struct {
	Environment    string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	CallbackSecret string
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// Missing lists the required gateway settings that are absent or invalid.
func (m MpesaConfig) Missing() []string {
	var missing []string
	if m.ConsumerKey == "" {
		missing = append(missing, "MPESA_CONSUMER_KEY")
	}
	if m.ConsumerSecret == "" {
		missing = append(missing, "MPESA_CONSUMER_SECRET")
	}
	if m.ShortCode == "" {
		missing = append(missing, "MPESA_BUSINESS_SHORT_CODE")
	}
	if m.Passkey == "" {
		missing = append(missing, "MPESA_PASSKEY")
	}
	if m.Environment != EnvSandbox && m.Environment != EnvProduction {
		missing = append(missing, "MPESA_ENVIRONMENT")
	}
	if m.CallbackURL == "" {
		missing = append(missing, "MPESA_CALLBACK_URL")
	}
	return missing
}

// APIBaseURL is the gateway root for the configured environment.
func (m MpesaConfig) APIBaseURL() string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/")
	}
	if m.Environment == EnvProduction {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// CallbackEndpoint is the URL registered with each push. When a callback
// secret is configured it travels as the token query parameter.
func (m MpesaConfig) CallbackEndpoint() string {
	if m.CallbackSecret == "" || m.CallbackURL == "" {
		return m.CallbackURL
	}
	u, err := url.Parse(m.CallbackURL)
	if err != nil {
		return m.CallbackURL
	}
	q := u.Query()
	q.Set("token", m.CallbackSecret)
	u.RawQuery = q.Encode()
	return u.String()
}

type TokenConfig struct {
	Price       float64
	MinPurchase float64
	MaxPurchase float64
}

type AuthConfig struct {
	ServiceTokenSecret string
	Issuer             string
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
}

type PricingConfig struct {
	CacheTTL     time.Duration
	CoinGeckoURL string
	BinanceURL   string
}

type TracingConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

func Load() (*Config, error) {
	var errs []string
	env := &envReader{}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("ENVIRONMENT", "development"),
			AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "nomatoken"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(env.int("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       env.int("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", nil),
			StatusTopic:   getEnv("KAFKA_STATUS_TOPIC", "payment.status.changed"),
			PurchaseTopic: getEnv("KAFKA_PURCHASE_TOPIC", "token.purchase.completed"),
		},
		Mpesa: MpesaConfig{
			Environment:    getEnv("MPESA_ENVIRONMENT", ""),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("MPESA_BUSINESS_SHORT_CODE", getEnv("MPESA_SHORT_CODE", "")),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			CallbackURL:    callbackURL(),
			CallbackSecret: getEnv("MPESA_CALLBACK_SECRET", ""),
			BaseURL:        getEnv("MPESA_BASE_URL", ""),
			Timeout:        env.duration("MPESA_TIMEOUT", 30*time.Second),
			MaxAttempts:    env.int("MPESA_MAX_ATTEMPTS", 3),
			RetryBackoff:   env.duration("MPESA_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Token: TokenConfig{
			Price:       env.float("NOMA_TOKEN_PRICE", 0.0245),
			MinPurchase: env.float("MIN_PURCHASE_AMOUNT", 10),
			MaxPurchase: env.float("MAX_PURCHASE_AMOUNT", 10000),
		},
		Auth: AuthConfig{
			ServiceTokenSecret: getEnv("SERVICE_TOKEN_SECRET", ""),
			Issuer:             getEnv("SERVICE_TOKEN_ISSUER", "nomatoken"),
		},
		Session: SessionConfig{
			TTL:           env.duration("SESSION_TTL", 3*time.Minute),
			SweepInterval: env.duration("SESSION_SWEEP_INTERVAL", time.Minute),
			Retention:     env.duration("SESSION_RETENTION", 24*time.Hour),
		},
		Pricing: PricingConfig{
			CacheTTL:     env.duration("PRICE_CACHE_TTL", time.Minute),
			CoinGeckoURL: getEnv("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"),
			BinanceURL:   getEnv("BINANCE_API_URL", "https://api.binance.com/api/v3"),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "nomatoken-payments"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}

	errs = append(errs, env.errs...)
	if cfg.Token.Price <= 0 {
		errs = append(errs, "NOMA_TOKEN_PRICE must be positive")
	}
	if cfg.Token.MinPurchase <= 0 || cfg.Token.MaxPurchase < cfg.Token.MinPurchase {
		errs = append(errs, "MIN_PURCHASE_AMOUNT/MAX_PURCHASE_AMOUNT must form a positive range")
	}
	if cfg.Mpesa.MaxAttempts < 1 {
		errs = append(errs, "MPESA_MAX_ATTEMPTS must be at least 1")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func callbackURL() string {
	if u := getEnv("MPESA_CALLBACK_URL", ""); u != "" {
		return u
	}
	if base := getEnv("CALLBACK_BASE_URL", ""); base != "" {
		return strings.TrimRight(base, "/") + "/payment/callback"
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader parses typed variables and remembers every malformed one.
type envReader struct {
	errs []string
}

func (e *envReader) int(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, key+" must be an integer")
		return defaultValue
	}
	return v
}

func (e *envReader) float(key string, defaultValue float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, key+" must be a number")
		return defaultValue
	}
	return v
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, key+" must be a duration")
		return defaultValue
	}
	return v
}
