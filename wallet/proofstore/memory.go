package proofstore

import (
	"context"
	"sync"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
)

// MemoryStore is the in-memory reference implementation. A single
// RWMutex covers both maps, which makes every operation trivially
// linearizable.
type MemoryStore struct {
	mu     sync.RWMutex
	proofs map[string]cashu.Proof
	states map[string]State
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proofs: make(map[string]cashu.Proof),
		states: make(map[string]State),
	}
}

func (ms *MemoryStore) Store(ctx context.Context, proofs cashu.Proofs) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, proof := range proofs {
		if _, ok := ms.proofs[proof.Secret]; ok {
			continue
		}
		ms.proofs[proof.Secret] = proof
		ms.states[proof.Secret] = nut07.Unspent
	}
	return nil
}

func (ms *MemoryStore) Remove(ctx context.Context, proofs cashu.Proofs) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, proof := range proofs {
		delete(ms.proofs, proof.Secret)
		delete(ms.states, proof.Secret)
	}
	return nil
}

func (ms *MemoryStore) RetrieveAll(ctx context.Context) (cashu.Proofs, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	proofs := make(cashu.Proofs, 0, len(ms.proofs))
	for _, proof := range ms.proofs {
		proofs = append(proofs, proof)
	}
	return proofs, nil
}

func (ms *MemoryStore) Retrieve(ctx context.Context, keysetId string) (cashu.Proofs, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	proofs := make(cashu.Proofs, 0)
	for _, proof := range ms.proofs {
		if proof.Id == keysetId {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (ms *MemoryStore) RetrieveAvailable(ctx context.Context) (cashu.Proofs, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	proofs := make(cashu.Proofs, 0)
	for secret, proof := range ms.proofs {
		if ms.states[secret] == nut07.Unspent {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (ms *MemoryStore) MarkPendingSpent(ctx context.Context, proofs cashu.Proofs) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	// check first so the batch transitions atomically
	for _, proof := range proofs {
		state, ok := ms.states[proof.Secret]
		if !ok {
			return transitionErr(proof.Secret, nut07.Unknown)
		}
		if state != nut07.Unspent {
			return transitionErr(proof.Secret, state)
		}
	}
	for _, proof := range proofs {
		ms.states[proof.Secret] = nut07.Pending
	}
	return nil
}

func (ms *MemoryStore) FinalizePendingSpent(ctx context.Context, proofs cashu.Proofs) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, proof := range proofs {
		state, ok := ms.states[proof.Secret]
		if !ok {
			return transitionErr(proof.Secret, nut07.Unknown)
		}
		if state != nut07.Pending {
			return transitionErr(proof.Secret, state)
		}
	}
	for _, proof := range proofs {
		ms.states[proof.Secret] = nut07.Spent
	}
	return nil
}

func (ms *MemoryStore) RollbackPendingSpent(ctx context.Context, proofs cashu.Proofs) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, proof := range proofs {
		state, ok := ms.states[proof.Secret]
		if !ok {
			return transitionErr(proof.Secret, nut07.Unknown)
		}
		if state != nut07.Pending {
			return transitionErr(proof.Secret, state)
		}
	}
	for _, proof := range proofs {
		ms.states[proof.Secret] = nut07.Unspent
	}
	return nil
}

func (ms *MemoryStore) GetPendingSpent(ctx context.Context) (cashu.Proofs, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	proofs := make(cashu.Proofs, 0)
	for secret, proof := range ms.proofs {
		if ms.states[secret] == nut07.Pending {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (ms *MemoryStore) Contains(ctx context.Context, proof cashu.Proof) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	_, ok := ms.proofs[proof.Secret]
	return ok, nil
}

func (ms *MemoryStore) Count(ctx context.Context) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.proofs), nil
}

func (ms *MemoryStore) Clear(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.proofs = make(map[string]cashu.Proof)
	ms.states = make(map[string]State)
	return nil
}
