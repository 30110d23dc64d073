package cashu

import (
	"math"
	"math/big"
	"reflect"
	"testing"
)

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{amount: 13, expected: []uint64{1, 4, 8}},
		{amount: 64, expected: []uint64{64}},
		{amount: 255, expected: []uint64{1, 2, 4, 8, 16, 32, 64, 128}},
		{amount: 0, expected: []uint64{}},
	}

	for _, test := range tests {
		split := AmountSplit(test.amount)
		if !reflect.DeepEqual(split, test.expected) {
			t.Errorf("expected split '%v' but got '%v'", test.expected, split)
		}
	}
}

func TestAmountChecked(t *testing.T) {
	split := AmountSplit(math.MaxUint64)
	overflowBlindedMessages := make(BlindedMessages, len(split)+1)
	for i, amount := range split {
		overflowBlindedMessages[i] = BlindedMessage{Amount: amount}
	}
	overflowBlindedMessages[len(split)] = BlindedMessage{Amount: 4}

	tests := []struct {
		blindedMessages BlindedMessages
		expectedAmount  uint64
		expectedErr     error
	}{
		{
			blindedMessages: BlindedMessages{
				BlindedMessage{Amount: 2},
				BlindedMessage{Amount: 4},
				BlindedMessage{Amount: 8},
				BlindedMessage{Amount: 64},
			},
			expectedAmount: 78,
			expectedErr:    nil,
		},
		{
			blindedMessages: overflowBlindedMessages,
			expectedAmount:  0,
			expectedErr:     ErrAmountOverflows,
		},
	}

	for _, test := range tests {
		totalAmount, err := test.blindedMessages.AmountChecked()
		if totalAmount != test.expectedAmount {
			t.Fatalf("expected total amount of '%v' but got '%v'", test.expectedAmount, totalAmount)
		}

		if err != test.expectedErr {
			t.Fatalf("expected error '%v' but got '%v'", test.expectedErr, err)
		}
	}
}

func TestOverflowAddUint64(t *testing.T) {
	tests := []struct {
		a                uint64
		b                uint64
		expectedUint64   uint64
		expectedOverflow bool
	}{
		{
			a:                21,
			b:                42,
			expectedUint64:   63,
			expectedOverflow: false,
		},
		{
			a:                math.MaxUint64 - 5,
			b:                10,
			expectedUint64:   math.MaxUint64,
			expectedOverflow: true,
		},
	}

	for _, test := range tests {
		result, overflow := OverflowAddUint64(test.a, test.b)
		if result != test.expectedUint64 {
			t.Fatalf("expected result '%v' but got '%v'", test.expectedUint64, result)
		}

		if overflow != test.expectedOverflow {
			t.Fatalf("expected overflow '%v' but got '%v'", test.expectedOverflow, overflow)
		}
	}
}

func FuzzOverflowAddUint64(f *testing.F) {
	cases := [][2]uint64{
		{21, 42},
		{math.MaxUint64, 10},
	}
	for _, seed := range cases {
		f.Add(seed[0], seed[1])
	}

	f.Fuzz(func(t *testing.T, a uint64, b uint64) {
		bigA := new(big.Int).SetUint64(a)
		bigB := new(big.Int).SetUint64(b)
		bigA.Add(bigA, bigB)

		result, overflow := OverflowAddUint64(a, b)
		// IsUint64 reports whether the number can be represented as uint64
		if bigA.IsUint64() {
			uint64Result := bigA.Uint64()
			if uint64Result != result {
				t.Errorf("a = %v and b = %v. expected result %v but got %v", a, b, uint64Result, result)
			}
		} else {
			if !overflow {
				t.Error("addition is above max uint64 but did not return overflow")
			}
		}
	})
}

func TestUnderflowSubUint64(t *testing.T) {
	tests := []struct {
		a                 uint64
		b                 uint64
		expectedUint64    uint64
		expectedUnderflow bool
	}{
		{
			a:                 42,
			b:                 21,
			expectedUint64:    21,
			expectedUnderflow: false,
		},
		{
			a:                 5,
			b:                 10,
			expectedUint64:    0,
			expectedUnderflow: true,
		},
	}

	for _, test := range tests {
		result, underflow := UnderflowSubUint64(test.a, test.b)
		if result != test.expectedUint64 {
			t.Fatalf("expected result '%v' but got '%v'", test.expectedUint64, result)
		}

		if underflow != test.expectedUnderflow {
			t.Fatalf("expected underflow '%v' but got '%v'", test.expectedUnderflow, underflow)
		}
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	proofs := Proofs{
		{Amount: 2, Secret: "secret1"},
		{Amount: 4, Secret: "secret2"},
	}
	if CheckDuplicateProofs(proofs) {
		t.Error("proofs with distinct secrets flagged as duplicates")
	}

	proofs = append(proofs, Proof{Amount: 8, Secret: "secret1"})
	if !CheckDuplicateProofs(proofs) {
		t.Error("duplicate secret not detected")
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected bool
	}{
		{1, true},
		{2, true},
		{64, true},
		{1 << 63, true},
		{0, false},
		{3, false},
		{6, false},
	}

	for _, test := range tests {
		if IsPowerOfTwo(test.amount) != test.expected {
			t.Errorf("IsPowerOfTwo(%v): expected %v", test.amount, test.expected)
		}
	}
}

func TestErrCategories(t *testing.T) {
	if !IsRetryable(ErrMintUnavailable) {
		t.Error("MintUnavailable should be retryable")
	}
	if IsRetryable(ErrInvalidProofCode) {
		t.Error("InvalidProof should not be retryable")
	}
	if !IsRetryable(HttpError("server error", 500)) {
		t.Error("HTTP 500 should be retryable")
	}
	if !IsRetryable(HttpError("too many requests", 429)) {
		t.Error("HTTP 429 should be retryable")
	}
	if IsRetryable(HttpError("bad request", 400)) {
		t.Error("HTTP 400 should not be retryable")
	}
	if ErrBalanceInsufficient.Category != CategoryWallet {
		t.Error("BalanceInsufficient should be a wallet error")
	}
}
