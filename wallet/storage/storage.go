// Package storage defines the persistence contracts of the wallet:
// the secure store for secrets and access tokens, and the wallet
// database for keysets, derivation counters and quotes.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cashukit/cashukit/cashu/nuts/nut04"
	"github.com/cashukit/cashukit/cashu/nuts/nut05"
	"github.com/cashukit/cashukit/crypto"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	ErrInvalidData    = errors.New("invalid data")
	ErrKeysetNotFound = errors.New("keyset does not exist")
	ErrNotFound       = errors.New("not found")
)

// StoreFailed wraps a backend write failure.
func StoreFailed(err error) error {
	return fmt.Errorf("store failed: %w", err)
}

// RetrievalFailed wraps a backend read failure. Access-control denials
// (user presence, biometric gating) surface through this path and are
// non-retryable.
func RetrievalFailed(err error) error {
	return fmt.Errorf("retrieval failed: %w", err)
}

// SecureStore holds the wallet secrets: mnemonic, seed and per-mint
// access tokens.
type SecureStore interface {
	SaveMnemonic(mnemonic string) error
	LoadMnemonic() (string, error)
	DeleteMnemonic() error

	SaveSeed(seedHex string) error
	LoadSeed() (string, error)
	DeleteSeed() error

	SaveAccessToken(token, mintURL string) error
	LoadAccessToken(mintURL string) (string, error)
	DeleteAccessToken(mintURL string) error

	SaveAccessTokenList(tokens []string, mintURL string) error
	LoadAccessTokenList(mintURL string) ([]string, error)
	DeleteAccessTokenList(mintURL string) error

	ClearAll() error
	HasStoredData() (bool, error)
}

// CounterLedger tracks the deterministic derivation counter per
// keyset id. Counters only move forward except for an explicit reset
// or a rewind after a failed mint round trip.
type CounterLedger interface {
	// KeysetCounter returns the counter, 0 when unknown.
	KeysetCounter(keysetId string) uint32
	SetKeysetCounter(keysetId string, value uint32) error
	// IncrementKeysetCounter adds num to the counter.
	IncrementKeysetCounter(keysetId string, num uint32) error
	ResetKeysetCounter(keysetId string) error
	// CounterSnapshot returns all tracked counters.
	CounterSnapshot() map[string]uint32
}

// WalletDB is the full wallet persistence contract.
type WalletDB interface {
	SecureStore
	CounterLedger

	SaveKeyset(keyset *crypto.WalletKeyset) error
	GetKeysets() crypto.KeysetsMap
	GetKeyset(keysetId string) *crypto.WalletKeyset
	UpdateKeysetMintURL(oldURL, newURL string) error

	SaveMintQuote(quote MintQuote) error
	GetMintQuotes() []MintQuote
	GetMintQuoteById(id string) *MintQuote

	SaveMeltQuote(quote MeltQuote) error
	GetMeltQuotes() []MeltQuote
	GetMeltQuoteById(id string) *MeltQuote

	Close() error
}

type MintQuote struct {
	QuoteId        string
	Mint           string
	Method         string
	State          nut04.State
	Unit           string
	PaymentRequest string
	Amount         uint64
	CreatedAt      int64
	SettledAt      int64
	QuoteExpiry    uint64
	// NUT-20 key the quote was locked to
	PrivateKey *secp256k1.PrivateKey
}

type mintQuoteTemp struct {
	QuoteId        string
	Mint           string
	Method         string
	State          nut04.State
	Unit           string
	PaymentRequest string
	Amount         uint64
	CreatedAt      int64
	SettledAt      int64
	QuoteExpiry    uint64
	PrivateKey     []byte
}

// custom Marshaller to serialize and deserialize private key to and from []byte

func (mq *MintQuote) MarshalJSON() ([]byte, error) {
	tempQuote := mintQuoteTemp{
		QuoteId:        mq.QuoteId,
		Mint:           mq.Mint,
		Method:         mq.Method,
		State:          mq.State,
		Unit:           mq.Unit,
		PaymentRequest: mq.PaymentRequest,
		Amount:         mq.Amount,
		CreatedAt:      mq.CreatedAt,
		SettledAt:      mq.SettledAt,
		QuoteExpiry:    mq.QuoteExpiry,
	}

	if mq.PrivateKey != nil {
		tempQuote.PrivateKey = mq.PrivateKey.Serialize()
	}

	return json.Marshal(tempQuote)
}

func (mq *MintQuote) UnmarshalJSON(data []byte) error {
	tempQuote := &mintQuoteTemp{}

	if err := json.Unmarshal(data, tempQuote); err != nil {
		return err
	}

	mq.QuoteId = tempQuote.QuoteId
	mq.Mint = tempQuote.Mint
	mq.Method = tempQuote.Method
	mq.State = tempQuote.State
	mq.Unit = tempQuote.Unit
	mq.PaymentRequest = tempQuote.PaymentRequest
	mq.Amount = tempQuote.Amount
	mq.CreatedAt = tempQuote.CreatedAt
	mq.SettledAt = tempQuote.SettledAt
	mq.QuoteExpiry = tempQuote.QuoteExpiry
	if len(tempQuote.PrivateKey) > 0 {
		mq.PrivateKey = secp256k1.PrivKeyFromBytes(tempQuote.PrivateKey)
	}

	return nil
}

type MeltQuote struct {
	QuoteId        string
	Mint           string
	Method         string
	State          nut05.State
	Unit           string
	PaymentRequest string
	Amount         uint64
	FeeReserve     uint64
	Preimage       string
	CreatedAt      int64
	SettledAt      int64
	QuoteExpiry    uint64
}
