// Package nut02 contains structs as defined in [NUT-02]
//
// [NUT-02]: https://github.com/cashubtc/nuts/blob/main/02.md
package nut02

import (
	"errors"

	"github.com/cashukit/cashukit/crypto"
)

type GetKeysetsResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id          string `json:"id"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
	InputFeePpk uint   `json:"input_fee_ppk,omitempty"`
}

// Validate checks the keyset id format and unit presence.
func (ks *Keyset) Validate() error {
	if err := crypto.ValidateKeysetId(ks.Id); err != nil {
		return err
	}
	if len(ks.Unit) == 0 {
		return errors.New("keyset without unit")
	}
	return nil
}

func (kr *GetKeysetsResponse) Validate() error {
	if len(kr.Keysets) == 0 {
		return errors.New("response has no keysets")
	}
	for _, keyset := range kr.Keysets {
		if err := keyset.Validate(); err != nil {
			return err
		}
	}
	return nil
}
