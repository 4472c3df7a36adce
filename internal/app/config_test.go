package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/kart",
		Auth:        AuthConfig{AccessTokenSecret: "secret"},
		Redis:       RedisConfig{Addr: "localhost:6379"},
		Stripe:      StripeConfig{SecretKey: "sk_test"},
		Checkout:    CheckoutConfig{Currency: "usd", LoyaltyPercent: 10},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"razorpay only", func(c *Config) {
			c.Stripe.SecretKey = ""
			c.Razorpay = RazorpayConfig{KeyID: "rzp_test", KeySecret: "s"}
		}, false},
		{"no database", func(c *Config) { c.DatabaseURL = "" }, true},
		{"no token secret", func(c *Config) { c.Auth.AccessTokenSecret = "" }, true},
		{"no provider", func(c *Config) { c.Stripe.SecretKey = "" }, true},
		{"razorpay without secret", func(c *Config) {
			c.Stripe.SecretKey = ""
			c.Razorpay = RazorpayConfig{KeyID: "rzp_test"}
		}, true},
		{"loyalty percent", func(c *Config) { c.Checkout.LoyaltyPercent = 0 }, true},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"wildcard origin", func(c *Config) { c.CORS = CORSConfig{Origins: []string{"*"}} }, false},
		{"credentials with explicit origins", func(c *Config) {
			c.CORS = CORSConfig{Origins: []string{"https://shop.example"}, AllowCredentials: true}
		}, false},
		{"credentials with wildcard origin", func(c *Config) {
			c.CORS = CORSConfig{Origins: []string{"https://shop.example", "*"}, AllowCredentials: true}
		}, true},
		{"credentials without origins", func(c *Config) { c.CORS.AllowCredentials = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6380/0")
	t.Setenv("PORT", "9000")

	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6380/0", cfg.Redis.Addr)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	t.Run("explicit values win", func(t *testing.T) {
		cfg := validConfig()
		cfg.Addr = "127.0.0.1:8081"
		cfg.Redis.Addr = "cache:6379"
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://localhost/kart", cfg.DatabaseURL)
		assert.Equal(t, "cache:6379", cfg.Redis.Addr)
		assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
	})
}

func TestNewRedis(t *testing.T) {
	c, err := newRedis("redis://:pw@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	c, err = newRedis("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", c.Options().Addr)

	_, err = newRedis("redis://cache:6379/notadb")
	require.Error(t, err)
}
