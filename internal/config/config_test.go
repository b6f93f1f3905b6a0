package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp/ecommerce/storepro/internal/domain"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func noFile(string) ([]byte, error) { return nil, errors.New("no file") }

func TestLoadDefaultsInDevelopment(t *testing.T) {
	cfg, err := load(mapLookup(nil), noFile)
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.HTTP.Port)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.JWTExpiresIn)
	assert.Equal(t, "", cfg.Database.DSN())
	assert.Equal(t, 10, cfg.Plans.Get(domain.PlanFree).Limits.MaxProducts)
	assert.Equal(t, domain.Unlimited, cfg.Plans.Get(domain.PlanPro).Limits.MaxOrders)
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	_, err := load(mapLookup(map[string]string{"APP_ENV": "production"}), noFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load(mapLookup(map[string]string{
		"APP_ENV":               "production",
		"JWT_SECRET":            "s3cret",
		"JWT_EXPIRES_IN":        "7d",
		"DB_HOST":               "db",
		"DB_PASSWORD":           "pw",
		"STRIPE_BASIC_PRICE_ID": "price_basic",
		"STRIPE_WEBHOOK_SECRET": "whsec_1",
		"CORS_ORIGINS":          "https://a.example, https://b.example",
		"FRONTEND_URL":          "https://shop.example/",
	}), noFile)
	require.NoError(t, err)

	assert.Equal(t, 7*24*time.Hour, cfg.Auth.JWTExpiresIn)
	assert.Equal(t, "postgres://postgres:pw@db:5432/storepro?sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, "price_basic", cfg.Plans.Get(domain.PlanBasic).StripePriceID)
	assert.Equal(t, "whsec_1", cfg.Stripe.SubscriptionWebhookSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "https://shop.example", cfg.FrontendURL)
}

func TestYAMLFileThenEnv(t *testing.T) {
	file := []byte(`
env: staging
http:
  port: "8081"
auth:
  jwtSecret: from-file
plans:
  basic:
    name: Basic
    price: "149"
    limits:
      maxProducts: 250
      maxOrders: 5000
`)
	readFile := func(string) ([]byte, error) { return file, nil }
	cfg, err := load(mapLookup(map[string]string{
		"CONFIG_FILE": "storepro.yaml",
		"PORT":        "9090",
	}), readFile)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	basic := cfg.Plans.Get(domain.PlanBasic)
	assert.Equal(t, 250, basic.Limits.MaxProducts)
	assert.Equal(t, domain.PlanBasic, basic.Key)
	assert.Equal(t, "149", basic.Price.String())
	assert.Equal(t, 10, cfg.Plans.Get(domain.PlanFree).Limits.MaxProducts)
}
