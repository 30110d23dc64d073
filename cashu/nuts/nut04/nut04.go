// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"
	"errors"

	"github.com/cashukit/cashukit/cashu"
)

type State int

const (
	Unpaid State = iota
	Pending
	Paid
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
	}
	return Unknown
}

// IsFinal reports whether the quote reached its terminal state.
func (state State) IsFinal() bool {
	return state == Paid
}

// CanPay reports whether the invoice behind the quote can still be paid.
func (state State) CanPay() bool {
	return state == Unpaid
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
	// NUT-20 public key the mint request must be signed with
	Pubkey string `json:"pubkey,omitempty"`
}

func (r *PostMintQuoteBolt11Request) Validate() error {
	if r.Amount == 0 {
		return errors.New("mint quote request amount cannot be 0")
	}
	if len(r.Unit) == 0 {
		return errors.New("mint quote request without unit")
	}
	return nil
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   State  `json:"state"`
	Expiry  uint64 `json:"expiry"`
	Pubkey  string `json:"pubkey,omitempty"`
}

func (r *PostMintQuoteBolt11Response) Validate() error {
	if len(r.Quote) == 0 {
		return errors.New("mint quote response without quote id")
	}
	if len(r.Request) == 0 {
		return errors.New("mint quote response without payment request")
	}
	return nil
}

type temp struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   string `json:"state"`
	Expiry  uint64 `json:"expiry"`
	Pubkey  string `json:"pubkey,omitempty"`
}

func (quoteResponse *PostMintQuoteBolt11Response) MarshalJSON() ([]byte, error) {
	var tempQuote = temp{
		Quote:   quoteResponse.Quote,
		Request: quoteResponse.Request,
		State:   quoteResponse.State.String(),
		Expiry:  quoteResponse.Expiry,
		Pubkey:  quoteResponse.Pubkey,
	}
	return json.Marshal(tempQuote)
}

func (quoteResponse *PostMintQuoteBolt11Response) UnmarshalJSON(data []byte) error {
	tempQuote := &temp{}

	if err := json.Unmarshal(data, tempQuote); err != nil {
		return err
	}

	quoteResponse.Quote = tempQuote.Quote
	quoteResponse.Request = tempQuote.Request
	state := StringToState(tempQuote.State)
	quoteResponse.State = state
	quoteResponse.Expiry = tempQuote.Expiry
	quoteResponse.Pubkey = tempQuote.Pubkey

	return nil
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
	// NUT-20 signature over quote id and outputs
	Signature string `json:"signature,omitempty"`
}

func (r *PostMintBolt11Request) Validate() error {
	if len(r.Quote) == 0 {
		return errors.New("mint request without quote id")
	}
	if len(r.Outputs) == 0 {
		return errors.New("mint request without outputs")
	}
	if _, err := r.Outputs.AmountChecked(); err != nil {
		return err
	}
	return nil
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

func (r *PostMintBolt11Response) Validate() error {
	if len(r.Signatures) == 0 {
		return errors.New("mint response without signatures")
	}
	return nil
}
