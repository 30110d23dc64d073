// Package nut01 contains structs as defined in [NUT-01]
//
// [NUT-01]: https://github.com/cashubtc/nuts/blob/main/01.md
package nut01

import (
	"encoding/json"
	"errors"

	"github.com/cashukit/cashukit/crypto"
)

type GetKeysResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id   string            `json:"id"`
	Unit string            `json:"unit"`
	Keys crypto.PublicKeys `json:"keys"`
}

// Validate checks the keyset id and that keys are present.
func (ks *Keyset) Validate() error {
	if err := crypto.ValidateKeysetId(ks.Id); err != nil {
		return err
	}
	if len(ks.Unit) == 0 {
		return errors.New("keyset without unit")
	}
	if len(ks.Keys) == 0 {
		return errors.New("keyset without keys")
	}
	return nil
}

func (kr *GetKeysResponse) Validate() error {
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

func (kr *GetKeysResponse) UnmarshalJSON(data []byte) error {
	var tempResponse struct {
		Keysets []json.RawMessage
	}
	if err := json.Unmarshal(data, &tempResponse); err != nil {
		return err
	}

	keysets := make([]Keyset, len(tempResponse.Keysets))
	for i, k := range tempResponse.Keysets {
		var keyset Keyset
		if err := json.Unmarshal(k, &keyset); err != nil {
			return err
		}
		keysets[i] = keyset
	}
	kr.Keysets = keysets

	return nil
}

func (ks *Keyset) UnmarshalJSON(data []byte) error {
	var tempKeyset struct {
		Id   string
		Unit string
		Keys json.RawMessage
	}

	if err := json.Unmarshal(data, &tempKeyset); err != nil {
		return err
	}

	ks.Id = tempKeyset.Id
	ks.Unit = tempKeyset.Unit

	publicKeys := make(crypto.PublicKeys)
	if err := json.Unmarshal(tempKeyset.Keys, &publicKeys); err != nil {
		return err
	}
	ks.Keys = publicKeys

	return nil
}
