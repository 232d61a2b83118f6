package container

import (
	"context"
	"fmt"

	"github.com/mohitkumar/drip/config"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/persistence/memory"
	"github.com/mohitkumar/drip/persistence/postgres"
	rd "github.com/mohitkumar/drip/persistence/redis"
)

// DIContiner selects and owns the storage implementations for the process.
type DIContiner struct {
	initialized bool
	jobStore    persistence.JobStore
	flowStore   persistence.FlowStore
	closers     []func() error
}

func NewDiContainer() *DIContiner {
	return &DIContiner{}
}

func (d *DIContiner) setInitialized() {
	d.initialized = true
}

func (d *DIContiner) Init(ctx context.Context, conf config.Config) error {
	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		rdConf := rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
			Password:  conf.RedisConfig.Password,
			PoolSize:  conf.RedisConfig.PoolSize,
		}
		jobStore := rd.NewRedisJobStore(rdConf)
		flowStore := rd.NewRedisFlowStore(rdConf)
		d.jobStore = jobStore
		d.flowStore = flowStore
		d.closers = append(d.closers, jobStore.Close, flowStore.Close)
	case config.STORAGE_TYPE_POSTGRES:
		db, err := postgres.Open(ctx, postgres.Config{
			URL:             conf.PostgresConfig.URL,
			PingTimeout:     conf.PostgresConfig.PingTimeout,
			MaxOpenConns:    conf.PostgresConfig.MaxOpenConns,
			MaxIdleConns:    conf.PostgresConfig.MaxIdleConns,
			ConnMaxLifetime: conf.PostgresConfig.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		d.jobStore = postgres.NewPostgresJobStore(db)
		d.flowStore = postgres.NewPostgresFlowStore(db)
		d.closers = append(d.closers, db.Close)
	case config.STORAGE_TYPE_INMEM:
		d.jobStore = memory.NewMemoryJobStore()
		d.flowStore = memory.NewMemoryFlowStore()
	default:
		return fmt.Errorf("unknown storage type %q", conf.StorageType)
	}
	d.setInitialized()
	return nil
}

func (d *DIContiner) GetJobStore() persistence.JobStore {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.jobStore
}

func (d *DIContiner) GetFlowStore() persistence.FlowStore {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.flowStore
}

func (d *DIContiner) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
