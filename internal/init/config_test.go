package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("MODE", "dev")
	t.Setenv("JWT_SECRET", "")

	cfg := Init()

	assert.Equal(t, DevMode, cfg.Mode)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, 2, cfg.PageSize)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "posts", cfg.KafkaTopic)
	assert.Equal(t, "socialfeed", cfg.CassandraKeyspace)
	assert.Same(t, cfg, Get())
	require.NoError(t, cfg.Validate())
}

func TestInit_FromEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("MODE", "PROD")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "15m")
	t.Setenv("PAGE_SIZE", "10")
	t.Setenv("KAFKA_READ_TIMEOUT", "not-a-duration")

	cfg := Init()

	assert.Equal(t, ProdMode, cfg.Mode)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 10*time.Second, cfg.KafkaReadTO)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		TokenTTL:       -time.Second,
		BcryptCost:     2,
		PageSize:       0,
		MaxUploadBytes: 0,
		TLSCertFile:    "cert.pem",
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"JWT_SECRET", "TOKEN_TTL", "BCRYPT_COST", "PAGE_SIZE", "MAX_UPLOAD_BYTES", "TLS_CERT_FILE"} {
		assert.Contains(t, err.Error(), want)
	}
}
