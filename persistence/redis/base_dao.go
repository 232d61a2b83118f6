package redis

import (
	"fmt"
	"strings"

	"github.com/mohitkumar/drip/logger"
	"github.com/mohitkumar/drip/persistence"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func newBaseDao(conf Config) *baseDao {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
		PoolSize: conf.PoolSize,
	})
	return &baseDao{
		redisClient: redisClient,
		namespace:   conf.Namespace,
	}
}

// getNamespaceKey wraps the namespace in a hash tag so every key of a
// namespace maps to one cluster slot. The scripts touch several keys at once
// and cluster mode rejects commands that span slots.
func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("{%s}:%s", bs.namespace, strings.Join(args, ":"))
}

func (bs *baseDao) Close() error {
	return bs.redisClient.Close()
}

func (bs *baseDao) storageError(msg string, err error, fields ...zap.Field) error {
	logger.Error(msg, append(fields, zap.Error(err))...)
	return persistence.StorageLayerError{Message: err.Error()}
}
