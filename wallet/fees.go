package wallet

import (
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/crypto"
)

// Fees returns the total input fee for spending the proofs: the sum of
// each input keyset's input_fee_ppk, divided by 1000 rounding up.
// Keysets without a declared fee contribute 0.
func Fees(proofs cashu.Proofs, keysets map[string]crypto.WalletKeyset) uint64 {
	var totalPpk uint64
	for _, proof := range proofs {
		if keyset, ok := keysets[proof.Id]; ok {
			totalPpk += uint64(keyset.InputFeePpk)
		}
	}
	return (totalPpk + 999) / 1000
}

// TransactionBalanced checks sum(inputs) == sum(outputs) + fees.
func TransactionBalanced(inputs cashu.Proofs, outputs cashu.BlindedMessages,
	keysets map[string]crypto.WalletKeyset) bool {

	inputAmount, err := inputs.AmountChecked()
	if err != nil {
		return false
	}
	outputAmount, err := outputs.AmountChecked()
	if err != nil {
		return false
	}
	total, overflow := cashu.OverflowAddUint64(outputAmount, Fees(inputs, keysets))
	if overflow {
		return false
	}
	return inputAmount == total
}

// ChangeAmounts decomposes the available change into standard
// power-of-two denominations, lowest bit first.
func ChangeAmounts(available uint64) []uint64 {
	return cashu.AmountSplit(available)
}
