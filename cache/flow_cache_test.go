package cache

import (
	"testing"
	"time"

	"github.com/mohitkumar/drip/model"
	"github.com/stretchr/testify/require"
)

func TestFlowCache(t *testing.T) {
	ch := NewFlowCache(time.Minute)
	fl := &model.Flow{Id: "f1", Name: "welcome", Nodes: []model.Node{{Id: "n1"}}}
	ch.SaveFlow(fl)

	got, ok := ch.GetFlow("f1")
	require.True(t, ok)
	require.Equal(t, "welcome", got.Name)

	got.Nodes[0].Id = "changed"
	again, _ := ch.GetFlow("f1")
	require.Equal(t, "n1", again.Nodes[0].Id)

	ch.DeleteFlow("f1")
	_, ok = ch.GetFlow("f1")
	require.False(t, ok)
}

func TestFlowCacheExpiry(t *testing.T) {
	ch := NewFlowCache(20 * time.Millisecond)
	ch.SaveFlow(&model.Flow{Id: "f1"})
	require.Eventually(t, func() bool {
		_, ok := ch.GetFlow("f1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
