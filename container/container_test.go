package container

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohitkumar/drip/config"
	"github.com/stretchr/testify/require"
)

func TestInitMemory(t *testing.T) {
	d := NewDiContainer()
	require.Panics(t, func() { d.GetJobStore() })
	require.NoError(t, d.Init(context.Background(), config.Config{StorageType: config.STORAGE_TYPE_INMEM}))
	require.NoError(t, d.GetJobStore().Ping(context.Background()))
	require.NotNil(t, d.GetFlowStore())
	require.NoError(t, d.Close())
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	d := NewDiContainer()
	err := d.Init(context.Background(), config.Config{
		StorageType: config.STORAGE_TYPE_REDIS,
		RedisConfig: config.RedisStorageConfig{Addrs: []string{mr.Addr()}, Namespace: "drip"},
	})
	require.NoError(t, err)
	require.NoError(t, d.GetJobStore().Ping(context.Background()))
	require.NoError(t, d.Close())
}

func TestInitUnknown(t *testing.T) {
	err := NewDiContainer().Init(context.Background(), config.Config{StorageType: "dynamo"})
	require.Error(t, err)
}
