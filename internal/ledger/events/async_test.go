package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	id "flowlend/pkg/domain"
)

func TestAsyncPublisherDeliversInOrder(t *testing.T) {
	sink := NewInMemory()
	async := NewAsync(16, nil)
	worker := NewWorker(async, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	ledgerID := id.NewLedgerID()
	types := []Type{TypeDebtChanged, TypeWithdrawal, TypeCustomerChanged}
	for _, typ := range types {
		require.NoError(t, async.Emit(ctx, Event{Type: typ, LedgerID: ledgerID}))
	}

	require.Eventually(t, func() bool {
		return len(sink.Events()) == len(types)
	}, time.Second, 5*time.Millisecond)

	got := sink.Events()
	for i, typ := range types {
		require.Equal(t, typ, got[i].Type)
		require.Equal(t, ledgerID, got[i].LedgerID)
	}

	cancel()
	<-done
}

func TestAsyncPublisherDropsWhenInboxFull(t *testing.T) {
	// No worker running: the second event has nowhere to go.
	async := NewAsync(1, nil)
	ctx := context.Background()

	require.NoError(t, async.Emit(ctx, Event{Type: TypeDebtChanged}))
	require.NoError(t, async.Emit(ctx, Event{Type: TypeDebtChanged}))
}

func TestWorkerStopsOnCancel(t *testing.T) {
	async := NewAsync(1, nil)
	worker := NewWorker(async, NewInMemory())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, worker.Run(ctx), context.Canceled)
}
