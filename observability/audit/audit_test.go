package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"engagement/core/events"
	"engagement/core/types"
)

func TestAuditStoresEventsOnce(t *testing.T) {
	ctx := context.Background()
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	evt := &types.Event{
		ID:         "evt-1",
		Type:       "escrow.funded",
		Sequence:   4,
		Timestamp:  1_700_000_000,
		Attributes: map[string]string{"engagement_id": "eng-1", "deposit": "500"},
	}
	require.NoError(t, store.HandleEvent(ctx, events.Wrap(evt)))
	require.NoError(t, store.HandleEvent(ctx, events.Wrap(evt)))
	require.NoError(t, store.HandleEvent(ctx, events.Wrap(&types.Event{
		ID: "evt-2", Type: "escrow.distributed", Sequence: 5, Timestamp: 1_700_000_010,
		Attributes: map[string]string{"engagement_id": "eng-1"},
	})))

	records, err := store.EventsFor(ctx, "eng-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "escrow.funded", records[0].Type)
	require.Equal(t, "500", records[0].Attributes["deposit"])
	require.Equal(t, uint64(5), records[1].Sequence)
}

func TestAuditRecordsCalls(t *testing.T) {
	ctx := context.Background()
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordCall(ctx, Call{Method: "escrow_fund", Principal: "eng1xyz", Duration: 3 * time.Millisecond}))
	require.NoError(t, store.RecordCall(ctx, Call{Method: "escrow_fund", Code: "EscrowFullyFunded"}))
	n, err := store.CallCount(ctx, "escrow_fund")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
