// Package proofstore tracks the lifecycle of proofs held by the
// wallet. Every proof is keyed by its secret and is in exactly one of
// three states: unspent, pending or spent. The only legal transitions
// are unspent -> pending, pending -> spent (finalize) and
// pending -> unspent (rollback).
package proofstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
)

var (
	ErrProofAlreadySpent = errors.New("proof already spent")
	ErrInvalidState      = errors.New("invalid proof state transition")
)

// Store is the proof lifecycle repository. Implementations are
// linearizable: MarkPendingSpent is the linearization point for spend
// attempts, so concurrent attempts on the same secret succeed for
// exactly one caller.
type Store interface {
	// Store adds proofs as unspent, keyed by secret. Duplicates are
	// silently de-duplicated.
	Store(ctx context.Context, proofs cashu.Proofs) error
	// Remove drops proofs by secret. Missing entries are a no-op.
	Remove(ctx context.Context, proofs cashu.Proofs) error
	// RetrieveAll returns every stored proof irrespective of state.
	RetrieveAll(ctx context.Context) (cashu.Proofs, error)
	// Retrieve returns stored proofs filtered by keyset id.
	Retrieve(ctx context.Context, keysetId string) (cashu.Proofs, error)
	// RetrieveAvailable returns the unspent proofs only.
	RetrieveAvailable(ctx context.Context) (cashu.Proofs, error)
	// MarkPendingSpent transitions unspent proofs to pending.
	MarkPendingSpent(ctx context.Context, proofs cashu.Proofs) error
	// FinalizePendingSpent transitions pending proofs to spent.
	FinalizePendingSpent(ctx context.Context, proofs cashu.Proofs) error
	// RollbackPendingSpent transitions pending proofs back to unspent.
	RollbackPendingSpent(ctx context.Context, proofs cashu.Proofs) error
	// GetPendingSpent enumerates the pending proofs.
	GetPendingSpent(ctx context.Context) (cashu.Proofs, error)
	// Contains reports membership by secret.
	Contains(ctx context.Context, proof cashu.Proof) (bool, error)
	// Count returns the number of stored proofs across all states.
	Count(ctx context.Context) (int, error)
	// Clear drops all state, including the pending and spent sets.
	Clear(ctx context.Context) error
}

// State reports the lifecycle state of a stored proof.
type State = nut07.State

func transitionErr(secret string, from State) error {
	if from == nut07.Spent {
		return fmt.Errorf("%w: secret %s", ErrProofAlreadySpent, secret)
	}
	return fmt.Errorf("%w: secret %s in state %s", ErrInvalidState, secret, from)
}
