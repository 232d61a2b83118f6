package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/drip/analytics"
	"github.com/mohitkumar/drip/archive"
	"github.com/mohitkumar/drip/dispatcher"
	"github.com/mohitkumar/drip/logger"
	"github.com/mohitkumar/drip/mail"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_POSTGRES StorageType = "postgres"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	HttpPort               int
	AllowedOrigins         []string
	StorageType            StorageType
	RedisConfig            RedisStorageConfig
	PostgresConfig         PostgresStorageConfig
	DispatcherEnabled      bool
	DispatcherConfig       dispatcher.Config
	SMTPConfig             mail.SMTPConfig
	SendTimeout            time.Duration
	AllowRecipientOverride bool
	FlowCacheTTL           time.Duration
	MetricsReportPeriod    time.Duration
	AnalyticsConfig        analytics.DataCollectorConfig
	ArchiveConfig          archive.Config
	LogConfig              logger.Config
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type PostgresStorageConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	PingTimeout     time.Duration
	ConnMaxLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		HttpPort:            8080,
		AllowedOrigins:      []string{"*"},
		StorageType:         STORAGE_TYPE_REDIS,
		RedisConfig:         RedisStorageConfig{Addrs: []string{"localhost:6379"}, Namespace: "drip"},
		PostgresConfig:      PostgresStorageConfig{MaxOpenConns: 20, MaxIdleConns: 5, PingTimeout: 5 * time.Second, ConnMaxLifetime: 30 * time.Minute},
		DispatcherEnabled:   true,
		DispatcherConfig:    dispatcher.DefaultConfig(),
		SendTimeout:         30 * time.Second,
		FlowCacheTTL:        5 * time.Minute,
		MetricsReportPeriod: time.Minute,
		AnalyticsConfig:     analytics.DataCollectorConfig{CollectorType: analytics.NOOP_DATA_COLLECTOR},
		LogConfig:           logger.Config{Level: "info", Format: "json"},
	}
}

func (c Config) Validate() error {
	if c.HttpPort <= 0 || c.HttpPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HttpPort)
	}
	switch c.StorageType {
	case STORAGE_TYPE_REDIS:
		if len(c.RedisConfig.Addrs) == 0 {
			return errors.New("redis storage needs at least one address")
		}
	case STORAGE_TYPE_POSTGRES:
		if c.PostgresConfig.URL == "" {
			return errors.New("postgres storage needs a url")
		}
	case STORAGE_TYPE_INMEM:
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.SendTimeout <= 0 {
		return errors.New("send timeout must be positive")
	}
	if c.DispatcherEnabled {
		if err := c.DispatcherConfig.Validate(); err != nil {
			return err
		}
		// a claim may only look stale once its send and result write are over
		if busy := c.MaxClaimDuration(); busy >= c.DispatcherConfig.StaleAfter {
			return fmt.Errorf("stale after %s must exceed send timeout plus store retries (%s)", c.DispatcherConfig.StaleAfter, busy)
		}
	}
	if c.ArchiveConfig.Enabled() {
		if err := c.ArchiveConfig.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MaxClaimDuration is the longest a dispatcher holds a claim: one send plus
// every retry of the result write.
func (c Config) MaxClaimDuration() time.Duration {
	dc := c.DispatcherConfig
	return c.SendTimeout + time.Duration(dc.StoreRetries+1)*dc.StoreRetryInterval
}

func (c Config) HttpAddr() string {
	return fmt.Sprintf(":%d", c.HttpPort)
}
