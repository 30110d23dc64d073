package wallet

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/crypto"
)

// GetMintActiveKeyset gets the active keyset with the specified unit
func (c *Client) GetMintActiveKeyset(ctx context.Context, mintURL string, unit cashu.Unit) (
	*crypto.WalletKeyset, error) {

	keysets, err := c.GetAllKeysets(ctx, mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active keysets from mint: %w", err)
	}

	for _, keyset := range keysets.Keysets {
		if keyset.Active && keyset.Unit == unit.String() {
			if err := crypto.ValidateKeysetId(keyset.Id); err != nil {
				continue
			}
			keys, err := c.GetKeysetKeys(ctx, mintURL, keyset.Id)
			if err != nil {
				return nil, err
			}
			return &crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mintURL,
				Unit:        keyset.Unit,
				Active:      true,
				PublicKeys:  keys,
				InputFeePpk: keyset.InputFeePpk,
			}, nil
		}
	}

	return nil, cashu.ErrNoActiveKeyset
}

// GetMintInactiveKeysets returns the mint's inactive keysets for the
// unit, without their keys.
func (c *Client) GetMintInactiveKeysets(ctx context.Context, mintURL string, unit cashu.Unit) (
	map[string]crypto.WalletKeyset, error) {

	keysetsResponse, err := c.GetAllKeysets(ctx, mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %w", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		_, err := hex.DecodeString(keysetRes.Id)
		if !keysetRes.Active && keysetRes.Unit == unit.String() && err == nil {
			keyset := crypto.WalletKeyset{
				Id:          keysetRes.Id,
				MintURL:     mintURL,
				Unit:        keysetRes.Unit,
				Active:      keysetRes.Active,
				InputFeePpk: keysetRes.InputFeePpk,
			}
			inactiveKeysets[keyset.Id] = keyset
		}
	}
	return inactiveKeysets, nil
}

// GetKeysetKeys fetches the public keys for a keyset id and verifies
// the derived id matches.
func (c *Client) GetKeysetKeys(ctx context.Context, mintURL, id string) (crypto.PublicKeys, error) {
	keysetsResponse, err := c.GetKeysetById(ctx, mintURL, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %w", err)
	}

	if len(keysetsResponse.Keysets) == 0 || len(keysetsResponse.Keysets[0].Keys) == 0 {
		return nil, cashu.ErrKeysetNotFound
	}

	keys := keysetsResponse.Keysets[0].Keys
	if crypto.DeriveKeysetId(keys) != id {
		return nil, cashu.ErrInvalidKeysetID.WithDetail("keyset id does not match derived id from keys")
	}

	return keys, nil
}
