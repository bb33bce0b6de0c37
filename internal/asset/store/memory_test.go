package store

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

const usdc = id.AssetID("USDC")

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	alice := id.Principal("alice")
	bob := id.Principal("bob")

	t.Run("unfunded account has zero balance", func(t *testing.T) {
		balance, err := store.Balance(ctx, usdc, alice)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})

	t.Run("transfer with insufficient balance fails atomically", func(t *testing.T) {
		err := store.Transfer(ctx, usdc, alice, bob, decimal.NewFromInt(10))
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeTransferFailed, dErrors.CodeOf(err))

		balance, err := store.Balance(ctx, usdc, bob)
		require.NoError(t, err)
		assert.True(t, balance.IsZero(), "failed transfer must not credit the destination")
	})

	t.Run("mint then transfer moves exactly the amount", func(t *testing.T) {
		require.NoError(t, store.Mint(ctx, usdc, alice, decimal.NewFromInt(100)))
		require.NoError(t, store.Transfer(ctx, usdc, alice, bob, decimal.NewFromInt(40)))

		aliceBal, _ := store.Balance(ctx, usdc, alice)
		bobBal, _ := store.Balance(ctx, usdc, bob)
		assert.True(t, aliceBal.Equal(decimal.NewFromInt(60)))
		assert.True(t, bobBal.Equal(decimal.NewFromInt(40)))
	})

	t.Run("zero transfer is a no-op", func(t *testing.T) {
		require.NoError(t, store.Transfer(ctx, usdc, alice, bob, decimal.Zero))
	})

	t.Run("negative amounts are rejected", func(t *testing.T) {
		err := store.Transfer(ctx, usdc, alice, bob, decimal.NewFromInt(-1))
		assert.Equal(t, dErrors.CodeInvalidAmount, dErrors.CodeOf(err))
		err = store.Mint(ctx, usdc, alice, decimal.NewFromInt(-1))
		assert.Equal(t, dErrors.CodeInvalidAmount, dErrors.CodeOf(err))
	})
}

func TestInMemoryStore_ConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	src := id.Principal("src")
	dst := id.Principal("dst")
	require.NoError(t, store.Mint(ctx, usdc, src, decimal.NewFromInt(1000)))

	const goroutines = 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_ = store.Transfer(ctx, usdc, src, dst, decimal.NewFromInt(10))
		}()
	}
	wg.Wait()

	srcBal, _ := store.Balance(ctx, usdc, src)
	dstBal, _ := store.Balance(ctx, usdc, dst)
	assert.True(t, srcBal.Add(dstBal).Equal(decimal.NewFromInt(1000)), "total supply must be conserved")
	assert.True(t, srcBal.Sign() >= 0, "source must never go negative")
}
