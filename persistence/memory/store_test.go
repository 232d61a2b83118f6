package memory

import (
	"testing"

	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/persistence/storetest"
)

func TestMemoryJobStore(t *testing.T) {
	storetest.RunJobStoreSuite(t, func(t *testing.T) persistence.JobStore {
		return NewMemoryJobStore()
	})
}

func TestMemoryFlowStore(t *testing.T) {
	storetest.RunFlowStoreSuite(t, func(t *testing.T) persistence.FlowStore {
		return NewMemoryFlowStore()
	})
}
