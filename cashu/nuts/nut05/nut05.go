// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import (
	"encoding/json"
	"errors"
	"time"

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

// CanPay reports whether the quote can still be paid.
func (state State) CanPay() bool {
	return state == Unpaid
}

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

func (r *PostMeltQuoteBolt11Request) Validate() error {
	if len(r.Request) == 0 {
		return errors.New("melt quote request without invoice")
	}
	if len(r.Unit) == 0 {
		return errors.New("melt quote request without unit")
	}
	return nil
}

type PostMeltQuoteBolt11Response struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      State  `json:"state"`
	Expiry     uint64 `json:"expiry"`
	Preimage   string `json:"payment_preimage,omitempty"`
	Change     cashu.BlindedSignatures `json:"change,omitempty"`
}

func (r *PostMeltQuoteBolt11Response) Validate() error {
	if len(r.Quote) == 0 {
		return errors.New("melt quote response without quote id")
	}
	return nil
}

type temp struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      string `json:"state"`
	Expiry     uint64 `json:"expiry"`
	Preimage   string `json:"payment_preimage,omitempty"`
	Change     cashu.BlindedSignatures `json:"change,omitempty"`
}

func (quoteResponse *PostMeltQuoteBolt11Response) MarshalJSON() ([]byte, error) {
	var tempQuote = temp{
		Quote:      quoteResponse.Quote,
		Amount:     quoteResponse.Amount,
		FeeReserve: quoteResponse.FeeReserve,
		State:      quoteResponse.State.String(),
		Expiry:     quoteResponse.Expiry,
		Preimage:   quoteResponse.Preimage,
		Change:     quoteResponse.Change,
	}
	return json.Marshal(tempQuote)
}

func (quoteResponse *PostMeltQuoteBolt11Response) UnmarshalJSON(data []byte) error {
	tempQuote := &temp{}

	if err := json.Unmarshal(data, tempQuote); err != nil {
		return err
	}

	quoteResponse.Quote = tempQuote.Quote
	quoteResponse.Amount = tempQuote.Amount
	quoteResponse.FeeReserve = tempQuote.FeeReserve
	quoteResponse.State = StringToState(tempQuote.State)
	quoteResponse.Expiry = tempQuote.Expiry
	quoteResponse.Preimage = tempQuote.Preimage
	quoteResponse.Change = tempQuote.Change

	return nil
}

type PostMeltBolt11Request struct {
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
	// blank outputs for change on fee reserve overpayment
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
	// NUT-22 access token, present when the mint mandates it
	AccessToken string `json:"access_token,omitempty"`
}

func (r *PostMeltBolt11Request) Validate() error {
	if len(r.Quote) == 0 {
		return errors.New("melt request without quote id")
	}
	if len(r.Inputs) == 0 {
		return errors.New("melt request without inputs")
	}
	if cashu.CheckDuplicateProofs(r.Inputs) {
		return errors.New("duplicate proofs in melt request")
	}
	for _, proof := range r.Inputs {
		if err := proof.Validate(); err != nil {
			return err
		}
	}
	if _, err := r.Inputs.AmountChecked(); err != nil {
		return err
	}
	return nil
}

// CheckMeltQuote verifies a melt can be attempted against a quote:
// the quote is payable and unexpired, and the inputs cover
// amount + fee_reserve + inputFees.
func CheckMeltQuote(quote *PostMeltQuoteBolt11Response, inputs cashu.Proofs, inputFees uint64, now time.Time) error {
	if !quote.State.CanPay() {
		if quote.State == Pending {
			return errors.New("quote is pending")
		}
		return errors.New("quote cannot be paid in its current state")
	}
	if quote.Expiry > 0 && uint64(now.Unix()) >= quote.Expiry {
		return errors.New("quote is expired")
	}

	inputsAmount, err := inputs.AmountChecked()
	if err != nil {
		return err
	}
	required, overflow := cashu.OverflowAddUint64(quote.Amount, quote.FeeReserve)
	if overflow {
		return cashu.ErrAmountOverflows
	}
	required, overflow = cashu.OverflowAddUint64(required, inputFees)
	if overflow {
		return cashu.ErrAmountOverflows
	}
	if inputsAmount < required {
		return errors.New("insufficient input amount for melt quote")
	}
	return nil
}
