package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Reservation.OptionTTL)
	assert.Equal(t, 24*time.Hour, cfg.Reservation.WaitlistOfferTTL)
	assert.Equal(t, "reservations.config.changed", cfg.Kafka.Topics.ConfigChanged)
	assert.Equal(t, 25, cfg.Pricing.PreDrink.MinPersons)
	assert.Equal(t, "log", cfg.Notifier.Transport)
	assert.True(t, cfg.Reservation.SweepEnabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPTION_TTL", "48h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CAPACITY_MAX_RETRIES", "5")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("OPTION_SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("OPTION_SWEEP_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, 48*time.Hour, cfg.Reservation.OptionTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Reservation.MaxRetries)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Minute, cfg.Reservation.SweepInterval)
	assert.False(t, cfg.Reservation.SweepEnabled)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Username: "u", Password: "p", Host: "db", Port: "5432", Database: "r", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/r?sslmode=disable", d.DSN())
}
