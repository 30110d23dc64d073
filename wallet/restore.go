package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
	"github.com/cashukit/cashukit/cashu/nuts/nut09"
	"github.com/cashukit/cashukit/cashu/nuts/nut13"
	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/wallet/proofstore"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// restoreBatchSize is how many consecutive counters are scanned per
// restore request.
const restoreBatchSize = 100

// emptyBatchLimit stops the scan after this many consecutive batches
// without signatures.
const emptyBatchLimit = 3

// Restore rebuilds a wallet from its mnemonic by scanning each mint's
// keysets for signatures the mint remembers issuing. It refuses to
// overwrite an existing wallet database.
func Restore(ctx context.Context, walletPath, mnemonic string, mintsToRestore []string) (uint64, error) {
	dbpath := filepath.Join(walletPath, "wallet.db")
	if _, err := os.Stat(dbpath); err == nil {
		return 0, errors.New("wallet already exists")
	}

	if err := os.MkdirAll(walletPath, 0700); err != nil {
		return 0, err
	}

	masterKey, err := nut13.MasterKeyFromMnemonic(mnemonic, "")
	if err != nil {
		return 0, err
	}

	db, err := InitStorage(walletPath)
	if err != nil {
		return 0, fmt.Errorf("error restoring wallet: %v", err)
	}
	defer db.Close()

	if err := db.SaveMnemonic(mnemonic); err != nil {
		return 0, err
	}

	proofs, err := proofstore.NewBoltStore(db.Bolt())
	if err != nil {
		return 0, err
	}
	manager := NewProofManager(proofs)

	client := NewClient()

	proofsRestored := cashu.Proofs{}

	// for each mint get the keysets and scan each one
	for _, mint := range mintsToRestore {
		mintInfo, err := client.GetMintInfo(ctx, mint)
		if err != nil {
			return 0, fmt.Errorf("error getting info from mint: %w", err)
		}
		if !mintInfo.Nuts.Supported(7) || !mintInfo.Nuts.Supported(9) {
			fmt.Println("mint does not support the necessary operations to restore wallet")
			continue
		}

		keysetsResponse, err := client.GetAllKeysets(ctx, mint)
		if err != nil {
			return 0, err
		}

		for _, keyset := range keysetsResponse.Keysets {
			if keyset.Unit != cashu.Sat.String() {
				continue
			}
			// ignore keysets with non-hex ids
			if _, err := hex.DecodeString(keyset.Id); err != nil {
				continue
			}

			keysetKeys, err := client.GetKeysetKeys(ctx, mint, keyset.Id)
			if err != nil {
				return 0, err
			}

			walletKeyset := crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mint,
				Unit:        keyset.Unit,
				Active:      keyset.Active,
				PublicKeys:  keysetKeys,
				InputFeePpk: keyset.InputFeePpk,
			}
			if err := db.SaveKeyset(&walletKeyset); err != nil {
				return 0, err
			}

			restored, counter, err := restoreKeyset(ctx, client, masterKey, mint, keyset.Id, keysetKeys)
			if err != nil {
				return 0, err
			}

			if len(restored) > 0 {
				if err := manager.AddProofs(ctx, restored); err != nil {
					return 0, fmt.Errorf("error saving restored proofs: %v", err)
				}
				proofsRestored = append(proofsRestored, restored...)
			}
			// fast-forward the counter past everything the mint has seen
			if err := db.SetKeysetCounter(keyset.Id, counter); err != nil {
				return 0, fmt.Errorf("error setting keyset counter: %v", err)
			}
		}
	}

	return proofsRestored.Amount(), nil
}

// restoreKeyset scans one keyset in batches of restoreBatchSize until
// emptyBatchLimit consecutive batches come back empty. It returns the
// unspent proofs found and the counter to resume derivation from.
func restoreKeyset(
	ctx context.Context,
	client *Client,
	masterKey *hdkeychain.ExtendedKey,
	mint, keysetId string,
	keysetKeys crypto.PublicKeys,
) (cashu.Proofs, uint32, error) {

	keysetPath, err := nut13.DeriveKeysetPath(masterKey, keysetId)
	if err != nil {
		return nil, 0, err
	}

	restoredProofs := cashu.Proofs{}
	var counter, lastUsedCounter uint32

	emptyBatches := 0
	for emptyBatches < emptyBatchLimit {
		blindedMessages := make(cashu.BlindedMessages, restoreBatchSize)
		rs := make([]*secp256k1.PrivateKey, restoreBatchSize)
		secrets := make([]string, restoreBatchSize)

		for i := 0; i < restoreBatchSize; i++ {
			secret, err := nut13.DeriveSecret(keysetPath, counter)
			if err != nil {
				return nil, 0, err
			}
			r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
			if err != nil {
				return nil, 0, err
			}
			B_, r, err := crypto.BlindMessage(secret, r)
			if err != nil {
				return nil, 0, err
			}

			B_str := hex.EncodeToString(B_.SerializeCompressed())
			blindedMessages[i] = cashu.BlindedMessage{B_: B_str, Id: keysetId}
			rs[i] = r
			secrets[i] = secret
			counter++
		}

		restoreRequest := nut09.PostRestoreRequest{Outputs: blindedMessages}
		restoreResponse, err := client.PostRestore(ctx, mint, restoreRequest)
		if err != nil {
			return nil, 0, fmt.Errorf("error restoring signatures from mint '%v': %w", mint, err)
		}

		if len(restoreResponse.Signatures) == 0 {
			emptyBatches++
			continue
		}
		emptyBatches = 0

		// the response echoes which outputs the mint signed; align
		// the returned signatures with our secrets and rs
		indexByB_ := make(map[string]int, len(blindedMessages))
		for i, bm := range blindedMessages {
			indexByB_[bm.B_] = i
		}

		Ys := make([]string, 0, len(restoreResponse.Signatures))
		proofsByY := make(map[string]cashu.Proof, len(restoreResponse.Signatures))

		for i, signature := range restoreResponse.Signatures {
			if i >= len(restoreResponse.Outputs) {
				break
			}
			idx, ok := indexByB_[restoreResponse.Outputs[i].B_]
			if !ok {
				continue
			}

			pubkey, ok := keysetKeys[signature.Amount]
			if !ok {
				return nil, 0, cashu.ErrKeysetNotFound.WithDetail("no key for restored amount")
			}

			C_bytes, err := hex.DecodeString(signature.C_)
			if err != nil {
				return nil, 0, cashu.ErrInvalidHexString
			}
			C_, err := secp256k1.ParsePubKey(C_bytes)
			if err != nil {
				return nil, 0, cashu.ErrInvalidPointCode
			}

			C, err := crypto.UnblindSignature(C_, rs[idx], pubkey)
			if err != nil {
				return nil, 0, err
			}

			Y, err := crypto.HashToCurve([]byte(secrets[idx]))
			if err != nil {
				return nil, 0, err
			}
			Yhex := hex.EncodeToString(Y.SerializeCompressed())
			Ys = append(Ys, Yhex)

			proofsByY[Yhex] = cashu.Proof{
				Amount: signature.Amount,
				Secret: secrets[idx],
				C:      hex.EncodeToString(C.SerializeCompressed()),
				Id:     signature.Id,
			}
			lastUsedCounter = counter
		}

		if len(Ys) == 0 {
			continue
		}

		stateResponse, err := client.PostCheckProofState(ctx, mint, nut07.PostCheckStateRequest{Ys: Ys})
		if err != nil {
			return nil, 0, err
		}

		for _, proofState := range stateResponse.States {
			if proofState.State == nut07.Unspent {
				if proof, ok := proofsByY[proofState.Y]; ok {
					restoredProofs = append(restoredProofs, proof)
				}
			}
		}
	}

	return restoredProofs, lastUsedCounter, nil
}
