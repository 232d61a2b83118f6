package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Equal(t, ":8080", DefaultConfig().HttpAddr())
}

func TestMaxClaimDuration(t *testing.T) {
	c := DefaultConfig()
	c.SendTimeout = 30 * time.Second
	c.DispatcherConfig.StoreRetries = 3
	c.DispatcherConfig.StoreRetryInterval = 200 * time.Millisecond
	require.Equal(t, 30*time.Second+800*time.Millisecond, c.MaxClaimDuration())
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(c *Config)
		valid  bool
	}{
		"memory storage":        {mutate: func(c *Config) { c.StorageType = STORAGE_TYPE_INMEM }, valid: true},
		"bad port":              {mutate: func(c *Config) { c.HttpPort = 0 }},
		"unknown storage":       {mutate: func(c *Config) { c.StorageType = "cassandra" }},
		"redis without address": {mutate: func(c *Config) { c.RedisConfig.Addrs = nil }},
		"postgres without url":  {mutate: func(c *Config) { c.StorageType = STORAGE_TYPE_POSTGRES }},
		"postgres with url": {mutate: func(c *Config) {
			c.StorageType = STORAGE_TYPE_POSTGRES
			c.PostgresConfig.URL = "postgres://localhost/drip"
		}, valid: true},
		"zero send timeout":         {mutate: func(c *Config) { c.SendTimeout = 0 }},
		"bad dispatcher config":     {mutate: func(c *Config) { c.DispatcherConfig.MaxAttempts = 0 }},
		"disabled dispatcher skips": {mutate: func(c *Config) {
			c.DispatcherEnabled = false
			c.DispatcherConfig.MaxAttempts = 0
		}, valid: true},
		"send timeout beyond stale after": {mutate: func(c *Config) {
			c.SendTimeout = 10 * time.Minute
			c.DispatcherConfig.StaleAfter = time.Minute
		}},
		"send timeout equal to stale after": {mutate: func(c *Config) {
			c.SendTimeout = time.Minute
			c.DispatcherConfig.StaleAfter = time.Minute
		}},
		"store retries push claim past stale after": {mutate: func(c *Config) {
			c.SendTimeout = 50 * time.Second
			c.DispatcherConfig.StaleAfter = time.Minute
			c.DispatcherConfig.StoreRetries = 10
			c.DispatcherConfig.StoreRetryInterval = time.Second
		}},
		"stale check ignored without dispatcher": {mutate: func(c *Config) {
			c.DispatcherEnabled = false
			c.SendTimeout = 10 * time.Minute
			c.DispatcherConfig.StaleAfter = time.Minute
		}, valid: true},
		"archive without bucket":    {mutate: func(c *Config) { c.ArchiveConfig.Endpoint = "localhost:9000" }},
		"short poll interval": {mutate: func(c *Config) {
			c.DispatcherConfig.PollInterval = 10 * time.Millisecond
		}, valid: true},
	} {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
