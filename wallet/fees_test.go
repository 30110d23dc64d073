package wallet

import (
	"testing"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/crypto"
)

func feeKeysets(ppk uint) map[string]crypto.WalletKeyset {
	return map[string]crypto.WalletKeyset{
		"009a1f293253e41e": {Id: "009a1f293253e41e", InputFeePpk: ppk},
	}
}

func TestFees(t *testing.T) {
	tests := []struct {
		inputs   int
		ppk      uint
		expected uint64
	}{
		{1, 100, 1},
		{3, 100, 1},
		{10, 100, 1},
		{11, 100, 2},
		{20, 100, 2},
		{5, 0, 0},
		{1, 1000, 1},
		{2, 1000, 2},
		{1, 1, 1},
	}

	for _, test := range tests {
		proofs := makeProofs(make([]uint64, test.inputs)...)
		for i := range proofs {
			proofs[i].Amount = 2
		}
		fee := Fees(proofs, feeKeysets(test.ppk))
		if fee != test.expected {
			t.Errorf("%d inputs at %d ppk: expected fee %d but got %d",
				test.inputs, test.ppk, test.expected, fee)
		}
	}
}

func TestFeesUnknownKeyset(t *testing.T) {
	proofs := makeProofs(2, 4)
	fee := Fees(proofs, map[string]crypto.WalletKeyset{})
	if fee != 0 {
		t.Errorf("unknown keysets should contribute no fee, got %d", fee)
	}
}

func TestTransactionBalanced(t *testing.T) {
	keysets := feeKeysets(100)

	// 3 inputs of 2 = 6, fee 1, outputs must sum to 5
	inputs := makeProofs(2, 2, 2)
	outputs := cashu.BlindedMessages{
		{Amount: 4}, {Amount: 1},
	}
	if !TransactionBalanced(inputs, outputs, keysets) {
		t.Error("balanced transaction reported unbalanced")
	}

	// outputs summing to the input amount ignore the fee
	outputs = cashu.BlindedMessages{{Amount: 4}, {Amount: 2}}
	if TransactionBalanced(inputs, outputs, keysets) {
		t.Error("unbalanced transaction reported balanced")
	}
}

func TestChangeAmounts(t *testing.T) {
	amounts := ChangeAmounts(11)
	expected := []uint64{1, 2, 8}
	if len(amounts) != len(expected) {
		t.Fatalf("expected %v but got %v", expected, amounts)
	}
	for i := range expected {
		if amounts[i] != expected[i] {
			t.Fatalf("expected %v but got %v", expected, amounts)
		}
		if !cashu.IsPowerOfTwo(amounts[i]) {
			t.Errorf("change amount %d is not a power of two", amounts[i])
		}
	}
}
