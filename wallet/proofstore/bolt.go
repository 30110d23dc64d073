package proofstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
	bolt "go.etcd.io/bbolt"
)

const (
	UNSPENT_PROOFS_BUCKET = "proofs_unspent"
	PENDING_PROOFS_BUCKET = "proofs_pending"
	SPENT_PROOFS_BUCKET   = "proofs_spent"
)

// BoltStore persists the proof lifecycle in three bbolt buckets, one
// per state, keyed by secret. Bolt serializes writers, which preserves
// the linearizability contract.
type BoltStore struct {
	bolt *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore initializes the proof buckets on an open bolt handle.
// The handle may be shared with the wallet storage.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{UNSPENT_PROOFS_BUCKET, PENDING_PROOFS_BUCKET, SPENT_PROOFS_BUCKET} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error setting up proof buckets: %v", err)
	}
	return &BoltStore{bolt: db}, nil
}

func stateBuckets(tx *bolt.Tx) map[State]*bolt.Bucket {
	return map[State]*bolt.Bucket{
		nut07.Unspent: tx.Bucket([]byte(UNSPENT_PROOFS_BUCKET)),
		nut07.Pending: tx.Bucket([]byte(PENDING_PROOFS_BUCKET)),
		nut07.Spent:   tx.Bucket([]byte(SPENT_PROOFS_BUCKET)),
	}
}

func proofState(tx *bolt.Tx, secret []byte) (State, []byte) {
	for state, bucket := range stateBuckets(tx) {
		if val := bucket.Get(secret); val != nil {
			return state, val
		}
	}
	return nut07.Unknown, nil
}

func (bs *BoltStore) Store(ctx context.Context, proofs cashu.Proofs) error {
	return bs.bolt.Update(func(tx *bolt.Tx) error {
		unspent := tx.Bucket([]byte(UNSPENT_PROOFS_BUCKET))
		for _, proof := range proofs {
			key := []byte(proof.Secret)
			if state, _ := proofState(tx, key); state != nut07.Unknown {
				continue
			}
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := unspent.Put(key, jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (bs *BoltStore) Remove(ctx context.Context, proofs cashu.Proofs) error {
	return bs.bolt.Update(func(tx *bolt.Tx) error {
		for _, proof := range proofs {
			key := []byte(proof.Secret)
			for _, bucket := range stateBuckets(tx) {
				if err := bucket.Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func collect(bucket *bolt.Bucket, proofs *cashu.Proofs) error {
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var proof cashu.Proof
		if err := json.Unmarshal(v, &proof); err != nil {
			continue
		}
		*proofs = append(*proofs, proof)
	}
	return nil
}

func (bs *BoltStore) RetrieveAll(ctx context.Context) (cashu.Proofs, error) {
	proofs := cashu.Proofs{}
	err := bs.bolt.View(func(tx *bolt.Tx) error {
		for _, bucket := range stateBuckets(tx) {
			if err := collect(bucket, &proofs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

func (bs *BoltStore) Retrieve(ctx context.Context, keysetId string) (cashu.Proofs, error) {
	all, err := bs.RetrieveAll(ctx)
	if err != nil {
		return nil, err
	}
	proofs := cashu.Proofs{}
	for _, proof := range all {
		if proof.Id == keysetId {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (bs *BoltStore) RetrieveAvailable(ctx context.Context) (cashu.Proofs, error) {
	proofs := cashu.Proofs{}
	err := bs.bolt.View(func(tx *bolt.Tx) error {
		return collect(tx.Bucket([]byte(UNSPENT_PROOFS_BUCKET)), &proofs)
	})
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

func (bs *BoltStore) move(proofs cashu.Proofs, from, to string) error {
	return bs.bolt.Update(func(tx *bolt.Tx) error {
		fromBucket := tx.Bucket([]byte(from))
		toBucket := tx.Bucket([]byte(to))

		// check the whole batch first so it transitions atomically
		for _, proof := range proofs {
			key := []byte(proof.Secret)
			if fromBucket.Get(key) == nil {
				state, _ := proofState(tx, key)
				return transitionErr(proof.Secret, state)
			}
		}
		for _, proof := range proofs {
			key := []byte(proof.Secret)
			val := fromBucket.Get(key)
			if err := toBucket.Put(key, val); err != nil {
				return err
			}
			if err := fromBucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (bs *BoltStore) MarkPendingSpent(ctx context.Context, proofs cashu.Proofs) error {
	return bs.move(proofs, UNSPENT_PROOFS_BUCKET, PENDING_PROOFS_BUCKET)
}

func (bs *BoltStore) FinalizePendingSpent(ctx context.Context, proofs cashu.Proofs) error {
	return bs.move(proofs, PENDING_PROOFS_BUCKET, SPENT_PROOFS_BUCKET)
}

func (bs *BoltStore) RollbackPendingSpent(ctx context.Context, proofs cashu.Proofs) error {
	return bs.move(proofs, PENDING_PROOFS_BUCKET, UNSPENT_PROOFS_BUCKET)
}

func (bs *BoltStore) GetPendingSpent(ctx context.Context) (cashu.Proofs, error) {
	proofs := cashu.Proofs{}
	err := bs.bolt.View(func(tx *bolt.Tx) error {
		return collect(tx.Bucket([]byte(PENDING_PROOFS_BUCKET)), &proofs)
	})
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

func (bs *BoltStore) Contains(ctx context.Context, proof cashu.Proof) (bool, error) {
	var found bool
	err := bs.bolt.View(func(tx *bolt.Tx) error {
		state, _ := proofState(tx, []byte(proof.Secret))
		found = state != nut07.Unknown
		return nil
	})
	return found, err
}

func (bs *BoltStore) Count(ctx context.Context) (int, error) {
	var count int
	err := bs.bolt.View(func(tx *bolt.Tx) error {
		for _, bucket := range stateBuckets(tx) {
			count += bucket.Stats().KeyN
		}
		return nil
	})
	return count, err
}

func (bs *BoltStore) Clear(ctx context.Context) error {
	return bs.bolt.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{UNSPENT_PROOFS_BUCKET, PENDING_PROOFS_BUCKET, SPENT_PROOFS_BUCKET} {
			if err := tx.DeleteBucket([]byte(bucket)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}
