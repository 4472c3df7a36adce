package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Production  bool   `default:"false" usage:"Hide internal error details from API responses"`
	Auth        AuthConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Stripe      StripeConfig
	Razorpay    RazorpayConfig
	Checkout    CheckoutConfig
	Gateway     GatewayConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig configures access token verification.
type AuthConfig struct {
	AccessTokenSecret string `usage:"HS256 secret of access tokens (KART_AUTH_ACCESS_TOKEN_SECRET)" flag:"access-token-secret"`
}

// RedisConfig configures the cart store.
type RedisConfig struct {
	Addr    string        `default:"localhost:6379" usage:"Redis address or redis:// URL"`
	CartTTL time.Duration `default:"168h" usage:"Cart expiry after the last change" flag:"cart-ttl"`
}

// KafkaConfig configures event publishing.
type KafkaConfig struct {
	Enabled bool     `default:"false" usage:"Relay outbox events to Kafka"`
	Brokers []string `default:"localhost:9092" usage:"Kafka bootstrap brokers"`
}

// OutboxConfig controls the outbox relay.
type OutboxConfig struct {
	Interval time.Duration `default:"2s" usage:"Outbox polling interval"`
	Batch    int           `default:"100" usage:"Messages relayed per poll"`
}

// StripeConfig configures the hosted checkout provider. The provider is
// disabled without a secret key.
type StripeConfig struct {
	SecretKey  string `usage:"Stripe secret key" flag:"stripe-secret-key"`
	SuccessURL string `default:"http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}" usage:"Redirect after payment" flag:"stripe-success-url"`
	CancelURL  string `default:"http://localhost:3000/cart" usage:"Redirect after cancel" flag:"stripe-cancel-url"`
}

// RazorpayConfig configures the signed callback provider. The provider is
// disabled without key credentials.
type RazorpayConfig struct {
	KeyID     string `usage:"Razorpay key id" flag:"razorpay-key-id"`
	KeySecret string `usage:"Razorpay key secret" flag:"razorpay-key-secret"`
}

// CheckoutConfig controls pricing and loyalty rewards.
type CheckoutConfig struct {
	Currency         string        `default:"usd" usage:"Charge currency (ISO 4217, lowercase)"`
	LoyaltyThreshold int64         `default:"20000" usage:"Order total in minor units that earns a coupon" flag:"loyalty-threshold"`
	LoyaltyPercent   int           `default:"10" usage:"Loyalty coupon discount percentage" flag:"loyalty-percent"`
	LoyaltyValidity  time.Duration `default:"720h" usage:"Loyalty coupon lifetime" flag:"loyalty-validity"`
}

// GatewayConfig bounds payment provider calls.
type GatewayConfig struct {
	Timeout         time.Duration `default:"10s" usage:"Per call timeout"`
	BreakerFailures uint32        `default:"5" usage:"Consecutive failures that open the breaker" flag:"breaker-failures"`
	BreakerCooldown time.Duration `default:"30s" usage:"Time the breaker stays open" flag:"breaker-cooldown"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max            int           `default:"100" usage:"Max requests per window"`
	Window         time.Duration `default:"1m"  usage:"Rate limit window duration"`
	TrustForwarded bool          `default:"false" usage:"Key clients by X-Forwarded-For" flag:"trust-forwarded"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	case c.Auth.AccessTokenSecret == "":
		return errors.New("access token secret is required: set KART_AUTH_ACCESS_TOKEN_SECRET")
	case c.Stripe.SecretKey == "" && (c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == ""):
		return errors.New("no payment provider configured: set Stripe or Razorpay credentials")
	case c.Checkout.LoyaltyPercent < 1 || c.Checkout.LoyaltyPercent > 100:
		return errors.Errorf("loyalty percent %d out of range [1, 100]", c.Checkout.LoyaltyPercent)
	case c.Kafka.Enabled && len(c.Kafka.Brokers) == 0:
		return errors.New("kafka enabled without brokers")
	case c.CORS.AllowCredentials && c.CORS.anyOrigin():
		return errors.New("CORS credentials require explicit origins: set KART_CORS_ORIGINS")
	}
	return nil
}

// anyOrigin reports whether the origin list admits every origin.
func (c CORSConfig) anyOrigin() bool {
	if len(c.Origins) == 0 {
		return true
	}
	return slices.Contains(c.Origins, "*")
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.Redis.Addr == "localhost:6379" {
		c.Redis.Addr = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
