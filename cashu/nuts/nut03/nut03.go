// Package nut03 contains structs as defined in [NUT-03]
//
// [NUT-03]: https://github.com/cashubtc/nuts/blob/main/03.md
package nut03

import (
	"errors"

	"github.com/cashukit/cashukit/cashu"
)

type PostSwapRequest struct {
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs"`
	// NUT-22 access token, present when the mint mandates it
	AccessToken string `json:"access_token,omitempty"`
}

type PostSwapResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// Validate rejects empty or duplicate inputs and empty outputs.
func (r *PostSwapRequest) Validate() error {
	if len(r.Inputs) == 0 {
		return errors.New("swap request without inputs")
	}
	if len(r.Outputs) == 0 {
		return errors.New("swap request without outputs")
	}
	if cashu.CheckDuplicateProofs(r.Inputs) {
		return errors.New("duplicate proofs in swap request")
	}
	for _, proof := range r.Inputs {
		if err := proof.Validate(); err != nil {
			return err
		}
	}
	if _, err := r.Inputs.AmountChecked(); err != nil {
		return err
	}
	if _, err := r.Outputs.AmountChecked(); err != nil {
		return err
	}
	return nil
}

func (r *PostSwapResponse) Validate() error {
	if len(r.Signatures) == 0 {
		return errors.New("swap response without signatures")
	}
	return nil
}
