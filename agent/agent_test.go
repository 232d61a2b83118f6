package agent

import (
	"testing"
	"time"

	"github.com/mohitkumar/drip/analytics"
	"github.com/mohitkumar/drip/config"
	"github.com/mohitkumar/drip/dispatcher"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		HttpPort:          18090,
		StorageType:       config.STORAGE_TYPE_INMEM,
		DispatcherEnabled: true,
		DispatcherConfig:  dispatcher.DefaultConfig(),
		SendTimeout:       time.Second,
		FlowCacheTTL:      time.Minute,
		AnalyticsConfig:   analytics.DataCollectorConfig{CollectorType: analytics.NOOP_DATA_COLLECTOR},
	}
}

func TestAgentLifecycle(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	require.NotNil(t, a.dispatcher)
	require.Nil(t, a.archiver)

	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
}

func TestAgentWithoutDispatcher(t *testing.T) {
	conf := testConfig()
	conf.DispatcherEnabled = false
	a, err := New(conf)
	require.NoError(t, err)
	require.Nil(t, a.dispatcher)
	require.NoError(t, a.Shutdown())
}

func TestAgentRejectsUnknownStorage(t *testing.T) {
	conf := testConfig()
	conf.StorageType = "cassandra"
	_, err := New(conf)
	require.Error(t, err)
}
