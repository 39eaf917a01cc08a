package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrailStopDrainsBuffer(t *testing.T) {
	storage := NewMemoryStorage()
	trail := NewTrail(storage, zap.NewNop())
	trail.Start()

	for i := 0; i < 250; i++ {
		trail.Record(Entry{
			ServiceName: "checkout-api",
			DecisionID:  fmt.Sprintf("dec-%d", i),
			Kind:        KindDecision,
			Status:      "scale_up",
		})
	}

	trail.Stop()

	assert.Equal(t, 250, storage.Len())
}

func TestTrailFillsIDAndTimestamp(t *testing.T) {
	storage := NewMemoryStorage()
	trail := NewTrail(storage, zap.NewNop())
	trail.Start()

	trail.Record(Entry{ServiceName: "checkout-api", Kind: KindGovernance, Status: "allowed"})
	trail.Stop()

	entries, err := storage.Find(context.Background(), Query{ServiceName: "checkout-api"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestTrailRecordAfterStopIsDropped(t *testing.T) {
	storage := NewMemoryStorage()
	trail := NewTrail(storage, zap.NewNop())
	trail.Start()
	trail.Stop()

	// Не должно паниковать на закрытом канале
	trail.Record(Entry{ServiceName: "checkout-api", Kind: KindDecision, Status: "no_action"})
	assert.Equal(t, 0, storage.Len())
}

func TestTrailFlushesByTimer(t *testing.T) {
	storage := NewMemoryStorage()
	trail := NewTrail(storage, zap.NewNop())
	trail.Start()
	defer trail.Stop()

	trail.Record(Entry{ServiceName: "checkout-api", Kind: KindExecution, Status: "succeeded"})

	// Меньше лимита пакета — запись уходит по таймеру
	require.Eventually(t, func() bool { return storage.Len() == 1 },
		2*time.Second, 20*time.Millisecond)
}

func TestMemoryStorageFindFilters(t *testing.T) {
	storage := NewMemoryStorage()
	now := time.Now()

	require.NoError(t, storage.WriteBatch(context.Background(), []Entry{
		{ID: "1", ServiceName: "checkout-api", DecisionID: "dec-1", Kind: KindDecision, Timestamp: now},
		{ID: "2", ServiceName: "billing-api", DecisionID: "dec-2", Kind: KindDecision, Timestamp: now},
		{ID: "3", ServiceName: "checkout-api", DecisionID: "dec-3", Kind: KindRollback, Timestamp: now.Add(time.Hour)},
	}))

	byService, err := storage.Find(context.Background(), Query{ServiceName: "checkout-api"})
	require.NoError(t, err)
	assert.Len(t, byService, 2)

	byDecision, err := storage.Find(context.Background(), Query{DecisionID: "dec-2"})
	require.NoError(t, err)
	require.Len(t, byDecision, 1)
	assert.Equal(t, "billing-api", byDecision[0].ServiceName)

	byWindow, err := storage.Find(context.Background(), Query{To: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, byWindow, 2)

	limited, err := storage.Find(context.Background(), Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
