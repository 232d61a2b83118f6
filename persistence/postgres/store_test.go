package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/persistence/storetest"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to DRIP_TEST_DATABASE_URL and empties the tables. The
// tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("DRIP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DRIP_TEST_DATABASE_URL not set")
	}
	db, err := Open(context.Background(), Config{
		URL:          url,
		PingTimeout:  2 * time.Second,
		MaxOpenConns: 20,
		MaxIdleConns: 5,
	})
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE drip_jobs, drip_flows`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresJobStore(t *testing.T) {
	storetest.RunJobStoreSuite(t, func(t *testing.T) persistence.JobStore {
		return NewPostgresJobStore(openTestDB(t))
	})
}

func TestPostgresFlowStore(t *testing.T) {
	storetest.RunFlowStoreSuite(t, func(t *testing.T) persistence.FlowStore {
		return NewPostgresFlowStore(openTestDB(t))
	})
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "postgres://localhost/drip", PingTimeout: time.Second, MaxOpenConns: 4, MaxIdleConns: 2}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(c *Config){
		"missing url":       func(c *Config) { c.URL = "" },
		"zero ping timeout": func(c *Config) { c.PingTimeout = 0 },
		"no connections":    func(c *Config) { c.MaxOpenConns = 0 },
		"too many idle":     func(c *Config) { c.MaxIdleConns = 5 },
		"negative lifetime": func(c *Config) { c.ConnMaxLifetime = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}
