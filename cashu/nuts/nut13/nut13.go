// Package nut13 implements deterministic secret derivation as defined
// in [NUT-13]: BIP39 mnemonic -> BIP32 master key -> per keyset and
// counter secrets and blinding factors.
//
// [NUT-13]: https://github.com/cashubtc/nuts/blob/main/13.md
package nut13

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
)

// purpose field of the derivation path m/129372'/0'/...
const Purpose = 129372

var (
	ErrInvalidEntropy  = errors.New("invalid entropy size")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// NewMnemonic generates a mnemonic of the given entropy strength in
// bits. Valid strengths are 128, 160, 192, 224 and 256.
func NewMnemonic(strength int) (string, error) {
	entropy, err := bip39.NewEntropy(strength)
	if err != nil {
		return "", ErrInvalidEntropy
	}
	return bip39.NewMnemonic(entropy)
}

// MnemonicToEntropy reverses the wordlist mapping, verifying the
// checksum.
func MnemonicToEntropy(mnemonic string) ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, ErrInvalidMnemonic
	}
	return entropy, nil
}

// EntropyToMnemonic maps entropy bytes to the English wordlist.
// Entropy must be 16, 20, 24, 28 or 32 bytes.
func EntropyToMnemonic(entropy []byte) (string, error) {
	switch len(entropy) {
	case 16, 20, 24, 28, 32:
	default:
		return "", ErrInvalidEntropy
	}
	return bip39.NewMnemonic(entropy)
}

// MasterKeyFromMnemonic derives the BIP32 master key from the seed of
// the mnemonic with the given passphrase.
func MasterKeyFromMnemonic(mnemonic, passphrase string) (*hdkeychain.ExtendedKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// KeysetDerivationIndex reduces the keyset id to the hardened child
// index used in the derivation path: the 8 id bytes read as a
// big-endian integer, modulo 2^31 - 1.
func KeysetDerivationIndex(keysetId string) (uint32, error) {
	keysetBytes, err := hex.DecodeString(keysetId)
	if err != nil {
		return 0, err
	}
	if len(keysetBytes) != 8 {
		return 0, errors.New("keyset id must be 8 bytes")
	}
	bigEndian := binary.BigEndian.Uint64(keysetBytes)
	return uint32(bigEndian % (1<<31 - 1)), nil
}

// DeriveKeysetPath derives m/129372'/0'/keyset_k_int' from the master key.
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, keysetId string) (*hdkeychain.ExtendedKey, error) {
	keysetIdInt, err := KeysetDerivationIndex(keysetId)
	if err != nil {
		return nil, err
	}

	// m/129372'
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + Purpose)
	if err != nil {
		return nil, err
	}

	// m/129372'/0'
	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}

	// m/129372'/0'/keyset_k_int'
	keysetPath, err := coinType.Derive(hdkeychain.HardenedKeyStart + keysetIdInt)
	if err != nil {
		return nil, err
	}

	return keysetPath, nil
}

// DeriveBlindingFactor derives the scalar at
// m/129372'/0'/keyset_k_int'/counter'/1.
func DeriveBlindingFactor(keysetPath *hdkeychain.ExtendedKey, counter uint32) (*secp256k1.PrivateKey, error) {
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return nil, err
	}

	rDerivationPath, err := counterPath.Derive(1)
	if err != nil {
		return nil, err
	}

	rkey, err := rDerivationPath.ECPrivKey()
	if err != nil {
		return nil, err
	}

	return rkey, nil
}

// DeriveSecret derives the secret at
// m/129372'/0'/keyset_k_int'/counter'/0. The secret is the hex string
// of the derived 32 bytes.
func DeriveSecret(keysetPath *hdkeychain.ExtendedKey, counter uint32) (string, error) {
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return "", err
	}

	secretDerivationPath, err := counterPath.Derive(0)
	if err != nil {
		return "", err
	}

	secretKey, err := secretDerivationPath.ECPrivKey()
	if err != nil {
		return "", err
	}

	secretBytes := secretKey.Serialize()
	secret := hex.EncodeToString(secretBytes)

	return secret, nil
}
