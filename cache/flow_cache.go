package cache

import (
	"time"

	"github.com/mohitkumar/drip/model"
	c "github.com/patrickmn/go-cache"
)

// FlowCache holds recently read flow definitions. Entries are copies so
// callers cannot mutate what other readers see.
type FlowCache struct {
	cache *c.Cache
}

func NewFlowCache(ttl time.Duration) *FlowCache {
	return &FlowCache{
		cache: c.New(ttl, 2*ttl),
	}
}

func (ch *FlowCache) SaveFlow(fl *model.Flow) {
	ch.cache.Set(fl.Id, copyFlow(fl), c.DefaultExpiration)
}

func (ch *FlowCache) GetFlow(id string) (*model.Flow, bool) {
	v, found := ch.cache.Get(id)
	if !found {
		return nil, false
	}
	return copyFlow(v.(*model.Flow)), true
}

func (ch *FlowCache) DeleteFlow(id string) {
	ch.cache.Delete(id)
}

func copyFlow(fl *model.Flow) *model.Flow {
	cp := *fl
	cp.Nodes = append([]model.Node(nil), fl.Nodes...)
	cp.Edges = append([]model.Edge(nil), fl.Edges...)
	return &cp
}
