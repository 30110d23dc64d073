package wallet

import (
	"context"
	"encoding/hex"
	"sort"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/wallet/proofstore"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ProofManager validates proofs entering the store, plans proof
// selection for spends and answers balance queries. It is safe for
// concurrent use; all state lives in the underlying store.
type ProofManager struct {
	store proofstore.Store
}

func NewProofManager(store proofstore.Store) *ProofManager {
	return &ProofManager{store: store}
}

// Store returns the underlying proof store.
func (pm *ProofManager) Store() proofstore.Store {
	return pm.store
}

// ValidateProof applies the insertion checks: positive amount,
// non-empty id and secret, C decodable as a compressed curve point.
func ValidateProof(proof cashu.Proof) error {
	if proof.Amount == 0 {
		return cashu.ErrInvalidAmount
	}
	if len(proof.Id) == 0 || len(proof.Secret) == 0 {
		return cashu.ErrInvalidSecret
	}
	CBytes, err := hex.DecodeString(proof.C)
	if err != nil {
		return cashu.ErrInvalidSignature
	}
	if _, err := secp256k1.ParsePubKey(CBytes); err != nil {
		return cashu.ErrInvalidSignature
	}
	return nil
}

// AddProofs validates and stores proofs, rejecting duplicates against
// the current store contents.
func (pm *ProofManager) AddProofs(ctx context.Context, proofs cashu.Proofs) error {
	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.ErrDuplicateProof
	}
	for _, proof := range proofs {
		if err := ValidateProof(proof); err != nil {
			return err
		}
		exists, err := pm.store.Contains(ctx, proof)
		if err != nil {
			return err
		}
		if exists {
			return cashu.ErrDuplicateProof
		}
	}
	return pm.store.Store(ctx, proofs)
}

// SelectProofs plans the smallest subset of available proofs summing
// to at least amount. Pending and spent proofs are excluded. An exact
// sum is preferred; otherwise the overshoot is kept minimal. The
// keysetId filter is optional.
func (pm *ProofManager) SelectProofs(ctx context.Context, amount uint64, keysetId string) (cashu.Proofs, error) {
	if amount == 0 {
		return nil, cashu.ErrInvalidAmount
	}

	available, err := pm.store.RetrieveAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if keysetId != "" {
		filtered := make(cashu.Proofs, 0, len(available))
		for _, proof := range available {
			if proof.Id == keysetId {
				filtered = append(filtered, proof)
			}
		}
		available = filtered
	}

	total, err := available.AmountChecked()
	if err != nil {
		return nil, err
	}
	if total < amount {
		return nil, cashu.ErrBalanceInsufficient
	}

	return selectForAmount(available, amount), nil
}

// selectForAmount picks proofs greedily from the largest denomination
// down. Denominations are powers of two, so if an exact-sum subset
// exists the greedy pass finds one. A remainder is covered by the
// smallest unused proof that fits, keeping the overshoot minimal.
func selectForAmount(available cashu.Proofs, amount uint64) cashu.Proofs {
	sorted := make(cashu.Proofs, len(available))
	copy(sorted, available)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	selected := make(cashu.Proofs, 0)
	used := make([]bool, len(sorted))
	remaining := amount
	for i, proof := range sorted {
		if proof.Amount <= remaining {
			selected = append(selected, proof)
			used[i] = true
			remaining -= proof.Amount
			if remaining == 0 {
				return selected
			}
		}
	}

	// no exact subset; cover the remainder with the smallest proof
	// that fits, walking up from the smallest denominations
	for i := len(sorted) - 1; i >= 0; i-- {
		if used[i] {
			continue
		}
		if sorted[i].Amount >= remaining {
			return append(selected, sorted[i])
		}
	}

	// largest-first fill for the long tail
	for i := 0; i < len(sorted) && remaining > 0; i++ {
		if used[i] {
			continue
		}
		selected = append(selected, sorted[i])
		used[i] = true
		if sorted[i].Amount >= remaining {
			remaining = 0
		} else {
			remaining -= sorted[i].Amount
		}
	}
	return selected
}

// TotalBalance sums the available proofs only.
func (pm *ProofManager) TotalBalance(ctx context.Context) (uint64, error) {
	available, err := pm.store.RetrieveAvailable(ctx)
	if err != nil {
		return 0, err
	}
	return available.AmountChecked()
}

// Balance sums the available proofs of one keyset.
func (pm *ProofManager) Balance(ctx context.Context, keysetId string) (uint64, error) {
	available, err := pm.store.RetrieveAvailable(ctx)
	if err != nil {
		return 0, err
	}
	var balance uint64
	for _, proof := range available {
		if proof.Id == keysetId {
			var overflow bool
			balance, overflow = cashu.OverflowAddUint64(balance, proof.Amount)
			if overflow {
				return 0, cashu.ErrAmountOverflows
			}
		}
	}
	return balance, nil
}
