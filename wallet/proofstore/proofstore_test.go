package proofstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cashukit/cashukit/cashu"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func proof(secret string, amount uint64) cashu.Proof {
	return cashu.Proof{
		Amount: amount,
		Id:     "009a1f293253e41e",
		Secret: secret,
		C:      "02bc9097997d81afb2cc7346b5e4345a9346bd2a506eb7958598a72f0cf85163ea",
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "proofs.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	boltStore, err := NewBoltStore(db)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   boltStore,
	}
}

func TestStoreDeduplicates(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Store(ctx, cashu.Proofs{proof("a", 2), proof("b", 4)}))
			require.NoError(t, store.Store(ctx, cashu.Proofs{proof("a", 2)}))

			count, err := store.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, count)

			ok, err := store.Contains(ctx, proof("a", 2))
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Store(ctx, cashu.Proofs{proof("a", 2)}))
			require.NoError(t, store.Remove(ctx, cashu.Proofs{proof("missing", 8)}))

			count, err := store.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, count)

			require.NoError(t, store.Remove(ctx, cashu.Proofs{proof("a", 2)}))
			count, err = store.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 0, count)
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := proof("a", 2)

			require.NoError(t, store.Store(ctx, cashu.Proofs{p}))
			require.NoError(t, store.MarkPendingSpent(ctx, cashu.Proofs{p}))

			pending, err := store.GetPendingSpent(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)

			// pending proofs are not available
			available, err := store.RetrieveAvailable(ctx)
			require.NoError(t, err)
			require.Len(t, available, 0)

			// but still stored
			all, err := store.RetrieveAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)

			// double mark fails
			require.Error(t, store.MarkPendingSpent(ctx, cashu.Proofs{p}))

			require.NoError(t, store.FinalizePendingSpent(ctx, cashu.Proofs{p}))

			// spent proofs cannot be re-marked
			err = store.MarkPendingSpent(ctx, cashu.Proofs{p})
			require.ErrorIs(t, err, ErrProofAlreadySpent)

			// finalize of a non-pending proof fails
			require.Error(t, store.FinalizePendingSpent(ctx, cashu.Proofs{p}))
		})
	}
}

func TestRollback(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := proof("a", 2)

			require.NoError(t, store.Store(ctx, cashu.Proofs{p}))
			require.NoError(t, store.MarkPendingSpent(ctx, cashu.Proofs{p}))
			require.NoError(t, store.RollbackPendingSpent(ctx, cashu.Proofs{p}))

			available, err := store.RetrieveAvailable(ctx)
			require.NoError(t, err)
			require.Len(t, available, 1)

			// unspent -> rollback is invalid
			require.Error(t, store.RollbackPendingSpent(ctx, cashu.Proofs{p}))

			// and the proof can be spent again
			require.NoError(t, store.MarkPendingSpent(ctx, cashu.Proofs{p}))
		})
	}
}

func TestMarkPendingIsAtomic(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Store(ctx, cashu.Proofs{proof("a", 2), proof("b", 4)}))
			require.NoError(t, store.MarkPendingSpent(ctx, cashu.Proofs{proof("b", 4)}))

			// batch containing an already-pending proof fails entirely
			err := store.MarkPendingSpent(ctx, cashu.Proofs{proof("a", 2), proof("b", 4)})
			require.Error(t, err)

			available, err := store.RetrieveAvailable(ctx)
			require.NoError(t, err)
			require.Len(t, available, 1)
			require.Equal(t, "a", available[0].Secret)
		})
	}
}

func TestRetrieveByKeyset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	other := proof("c", 8)
	other.Id = "00456a94ab4e1c46"

	require.NoError(t, store.Store(ctx, cashu.Proofs{proof("a", 2), proof("b", 4), other}))

	proofs, err := store.Retrieve(ctx, "009a1f293253e41e")
	require.NoError(t, err)
	require.Len(t, proofs, 2)

	proofs, err = store.Retrieve(ctx, "00456a94ab4e1c46")
	require.NoError(t, err)
	require.Len(t, proofs, 1)
}

func TestClear(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Store(ctx, cashu.Proofs{proof("a", 2), proof("b", 4)}))
			require.NoError(t, store.MarkPendingSpent(ctx, cashu.Proofs{proof("a", 2)}))
			require.NoError(t, store.Clear(ctx))

			count, err := store.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 0, count)

			pending, err := store.GetPendingSpent(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 0)
		})
	}
}

// concurrent spend attempts on the same secret: exactly one caller
// wins the unspent -> pending transition
func TestConcurrentSpendSingleWinner(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := proof("contested", 16)
			require.NoError(t, store.Store(ctx, cashu.Proofs{p}))

			const goroutines = 32
			var wins atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})

			for i := 0; i < goroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if err := store.MarkPendingSpent(ctx, cashu.Proofs{p}); err == nil {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			require.Equal(t, int32(1), wins.Load())

			pending, err := store.GetPendingSpent(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
		})
	}
}

func TestConcurrentStoreAndCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				p := proof(fmt.Sprintf("w%d-%d", w, i), 2)
				if err := store.Store(ctx, cashu.Proofs{p}); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, writers*perWriter, count)
}
