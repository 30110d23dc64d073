// Package nut09 contains structs as defined in [NUT-09]
//
// [NUT-09]: https://github.com/cashubtc/nuts/blob/main/09.md
package nut09

import (
	"errors"

	"github.com/cashukit/cashukit/cashu"
)

type PostRestoreRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

func (r *PostRestoreRequest) Validate() error {
	if len(r.Outputs) == 0 {
		return errors.New("restore request without outputs")
	}
	return nil
}

type PostRestoreResponse struct {
	Outputs    cashu.BlindedMessages   `json:"outputs"`
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

func (r *PostRestoreResponse) Validate() error {
	if len(r.Outputs) != len(r.Signatures) {
		return errors.New("restore response with mismatched outputs and signatures")
	}
	return nil
}
