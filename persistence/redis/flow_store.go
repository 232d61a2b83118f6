package redis

import (
	"context"
	"sort"

	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/util"
	"go.uber.org/zap"
)

const FLOW_DEF string = "FLOW_DEF"

var _ persistence.FlowStore = new(redisFlowStore)

type redisFlowStore struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Flow]
}

func NewRedisFlowStore(conf Config) *redisFlowStore {
	return &redisFlowStore{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Flow](),
	}
}

func (s *redisFlowStore) SaveFlow(ctx context.Context, fl *model.Flow) error {
	data, err := s.encoderDecoder.Encode(*fl)
	if err != nil {
		return err
	}
	key := s.getNamespaceKey(FLOW_DEF)
	if err := s.redisClient.HSet(ctx, key, fl.Id, string(data)).Err(); err != nil {
		return s.storageError("error in saving flow", err, zap.String("flow", fl.Id))
	}
	return nil
}

func (s *redisFlowStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	key := s.getNamespaceKey(FLOW_DEF)
	res, err := s.redisClient.HMGet(ctx, key, id).Result()
	if err != nil {
		return nil, s.storageError("error in getting flow", err, zap.String("flow", id))
	}
	data, ok := res[0].(string)
	if !ok {
		return nil, persistence.ErrFlowNotFound
	}
	return s.encoderDecoder.Decode([]byte(data))
}

func (s *redisFlowStore) ListFlows(ctx context.Context) ([]model.FlowSummary, error) {
	key := s.getNamespaceKey(FLOW_DEF)
	all, err := s.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.storageError("error in listing flows", err)
	}
	res := make([]model.FlowSummary, 0, len(all))
	for _, data := range all {
		fl, err := s.encoderDecoder.Decode([]byte(data))
		if err != nil {
			return nil, persistence.StorageLayerError{Message: "corrupt flow payload: " + err.Error()}
		}
		res = append(res, model.FlowSummary{Id: fl.Id, Name: fl.Name, UpdatedAt: fl.UpdatedAt})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (s *redisFlowStore) DeleteFlow(ctx context.Context, id string) error {
	key := s.getNamespaceKey(FLOW_DEF)
	n, err := s.redisClient.HDel(ctx, key, id).Result()
	if err != nil {
		return s.storageError("error in deleting flow", err, zap.String("flow", id))
	}
	if n == 0 {
		return persistence.ErrFlowNotFound
	}
	return nil
}
