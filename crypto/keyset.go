package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// KeysetIdVersion is the single version byte currently in use,
// hex-encoded as the first two characters of every keyset id.
const KeysetIdVersion = "00"

var ErrInvalidKeysetId = errors.New("invalid keyset id")

// PublicKeys maps an amount to the mint public key for that amount.
type PublicKeys map[uint64]*secp256k1.PublicKey

// Custom marshaller to display sorted keys
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, len(pks))
	i := 0
	for k := range pks {
		amounts[i] = k
		i++
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')
		pubkey := hex.EncodeToString(pks[amount].SerializeCompressed())
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var tempKeys map[uint64]string
	if err := json.Unmarshal(data, &tempKeys); err != nil {
		return err
	}

	for amount, key := range tempKeys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		publicKey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = publicKey
	}
	return nil
}

// DeriveKeysetId returns the id derived from the keyset key map.
// The steps to derive the id are:
// - sort public keys by their amount in ascending order
// - concatenate all public keys to one byte array
// - HASH_SHA256 the concatenated public keys
// - take the first 14 characters of the hex-encoded hash
// - prefix it with the keyset id version byte
func DeriveKeysetId(keyset PublicKeys) string {
	type pubkey struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}
	pubkeys := make([]pubkey, len(keyset))
	i := 0
	for amount, key := range keyset {
		pubkeys[i] = pubkey{amount, key}
		i++
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].amount < pubkeys[j].amount
	})

	keys := make([]byte, 0, len(pubkeys)*33)
	for _, key := range pubkeys {
		keys = append(keys, key.pk.SerializeCompressed()...)
	}
	hash := sha256.Sum256(keys)

	return KeysetIdVersion + hex.EncodeToString(hash[:])[:14]
}

// DeriveKeysetIdFromMap derives the keyset id from the raw
// {amount string -> pubkey hex} form that mints publish. Amounts are
// compared as unbounded integers, never lexically.
func DeriveKeysetIdFromMap(keys map[string]string) (string, error) {
	type pubkey struct {
		amount *big.Int
		pk     []byte
	}

	pubkeys := make([]pubkey, 0, len(keys))
	for amountStr, keyHex := range keys {
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok || amount.Sign() < 0 {
			return "", fmt.Errorf("invalid amount '%v' in key map", amountStr)
		}
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			return "", fmt.Errorf("invalid public key: %v", err)
		}
		if _, err := secp256k1.ParsePubKey(keyBytes); err != nil {
			return "", fmt.Errorf("invalid public key: %v", err)
		}
		pubkeys = append(pubkeys, pubkey{amount, keyBytes})
	}

	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].amount.Cmp(pubkeys[j].amount) < 0
	})

	concat := make([]byte, 0, len(pubkeys)*33)
	for _, key := range pubkeys {
		concat = append(concat, key.pk...)
	}
	hash := sha256.Sum256(concat)

	return KeysetIdVersion + hex.EncodeToString(hash[:])[:14], nil
}

// ValidateKeysetId checks length, hex encoding and version byte.
func ValidateKeysetId(id string) error {
	if len(id) != 16 {
		return ErrInvalidKeysetId
	}
	if _, err := hex.DecodeString(id); err != nil {
		return ErrInvalidKeysetId
	}
	if id[:2] != KeysetIdVersion {
		return ErrInvalidKeysetId
	}
	return nil
}

// KeysetsMap maps a mint url to the list of keysets known for that mint.
type KeysetsMap map[string][]WalletKeyset

// WalletKeyset is a mint keyset tracked by the wallet: the public keys
// per amount plus the deterministic derivation counter and input fee.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  PublicKeys
	Counter     uint32
	InputFeePpk uint
}

type walletKeysetTemp struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64][]byte
	Counter     uint32
	InputFeePpk uint
}

func (wk *WalletKeyset) MarshalJSON() ([]byte, error) {
	temp := &walletKeysetTemp{
		Id:      wk.Id,
		MintURL: wk.MintURL,
		Unit:    wk.Unit,
		Active:  wk.Active,
		PublicKeys: func() map[uint64][]byte {
			m := make(map[uint64][]byte)
			for k, v := range wk.PublicKeys {
				m[k] = v.SerializeCompressed()
			}
			return m
		}(),
		Counter:     wk.Counter,
		InputFeePpk: wk.InputFeePpk,
	}

	return json.Marshal(temp)
}

func (wk *WalletKeyset) UnmarshalJSON(data []byte) error {
	temp := &walletKeysetTemp{}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	wk.Id = temp.Id
	wk.MintURL = temp.MintURL
	wk.Unit = temp.Unit
	wk.Active = temp.Active
	wk.Counter = temp.Counter
	wk.InputFeePpk = temp.InputFeePpk

	wk.PublicKeys = make(PublicKeys)
	for k, v := range temp.PublicKeys {
		kp, err := secp256k1.ParsePubKey(v)
		if err != nil {
			return err
		}

		wk.PublicKeys[k] = kp
	}

	return nil
}
