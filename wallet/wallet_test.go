package wallet

import (
	"encoding/hex"
	"testing"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut13"
	"github.com/cashukit/cashukit/crypto"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const testMnemonic = "half depart obvious quality work element tank gorilla view sugar picture humble"

func testWallet(t *testing.T) *Wallet {
	t.Helper()
	masterKey, err := nut13.MasterKeyFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatal(err)
	}
	return &Wallet{masterKey: masterKey, unit: cashu.Sat}
}

func testKeyset(t *testing.T, mintKeys map[uint64]*secp256k1.PrivateKey) crypto.WalletKeyset {
	t.Helper()
	publicKeys := make(crypto.PublicKeys, len(mintKeys))
	for amount, key := range mintKeys {
		publicKeys[amount] = key.PubKey()
	}
	return crypto.WalletKeyset{
		Id:         "009a1f293253e41e",
		MintURL:    "https://8333.space:3338",
		Unit:       "sat",
		Active:     true,
		PublicKeys: publicKeys,
	}
}

func testMintKeys(t *testing.T, amounts ...uint64) map[uint64]*secp256k1.PrivateKey {
	t.Helper()
	keys := make(map[uint64]*secp256k1.PrivateKey, len(amounts))
	for _, amount := range amounts {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		keys[amount] = key
	}
	return keys
}

func TestCreateDeterministicBlindedMessages(t *testing.T) {
	w := testWallet(t)
	keyset := testKeyset(t, testMintKeys(t, 1, 2, 4, 8))

	blindedMessages, secrets, rs, err := w.createDeterministicBlindedMessages(13, keyset, 0)
	if err != nil {
		t.Fatal(err)
	}

	// 13 = 1 + 4 + 8
	if len(blindedMessages) != 3 || len(secrets) != 3 || len(rs) != 3 {
		t.Fatalf("expected 3 outputs, got %v", len(blindedMessages))
	}
	if blindedMessages.Amount() != 13 {
		t.Errorf("expected total 13, got %v", blindedMessages.Amount())
	}
	// sorted by amount
	for i := 1; i < len(blindedMessages); i++ {
		if blindedMessages[i-1].Amount > blindedMessages[i].Amount {
			t.Error("blinded messages not sorted by amount")
		}
	}

	// the first derived secret matches the published NUT-13 vector
	found := false
	for _, secret := range secrets {
		if secret == "485875df74771877439ac06339e284c3acfcd9be7abf3bc20b516faeadfe77ae" {
			found = true
		}
	}
	if !found {
		t.Error("derivation does not start at the expected counter")
	}

	// same counter derives the same messages
	again, againSecrets, _, err := w.createDeterministicBlindedMessages(13, keyset, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range blindedMessages {
		if blindedMessages[i].B_ != again[i].B_ || secrets[i] != againSecrets[i] {
			t.Fatal("deterministic derivation is not stable")
		}
	}

	// a different counter derives different messages
	shifted, _, _, err := w.createDeterministicBlindedMessages(13, keyset, 10)
	if err != nil {
		t.Fatal(err)
	}
	if shifted[0].B_ == blindedMessages[0].B_ {
		t.Error("counter does not affect derivation")
	}
}

func TestConstructProofs(t *testing.T) {
	w := testWallet(t)
	mintKeys := testMintKeys(t, 1, 2, 4, 8)
	keyset := testKeyset(t, mintKeys)

	blindedMessages, secrets, rs, err := w.createDeterministicBlindedMessages(6, keyset, 0)
	if err != nil {
		t.Fatal(err)
	}

	// act as the mint: sign each blinded message
	signatures := make(cashu.BlindedSignatures, len(blindedMessages))
	for i, bm := range blindedMessages {
		B_bytes, err := hex.DecodeString(bm.B_)
		if err != nil {
			t.Fatal(err)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			t.Fatal(err)
		}
		C_, err := crypto.SignBlindedMessage(B_, mintKeys[bm.Amount])
		if err != nil {
			t.Fatal(err)
		}
		signatures[i] = cashu.BlindedSignature{
			Amount: bm.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
		}
	}

	proofs, err := constructProofs(signatures, secrets, rs, keyset)
	if err != nil {
		t.Fatal(err)
	}
	if proofs.Amount() != 6 {
		t.Errorf("expected proofs amount 6, got %v", proofs.Amount())
	}

	// every proof verifies against the mint key
	for _, proof := range proofs {
		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			t.Fatal(err)
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			t.Fatal(err)
		}
		if !crypto.Verify(proof.Secret, mintKeys[proof.Amount], C) {
			t.Error("constructed proof does not verify")
		}
	}

	// mismatched lengths are rejected
	if _, err := constructProofs(signatures, secrets[:1], rs, keyset); err == nil {
		t.Error("mismatched lengths accepted")
	}

	// a signature for an amount with no mint key fails
	signatures[0].Amount = 64
	if _, err := constructProofs(signatures, secrets, rs, keyset); err == nil {
		t.Error("unknown amount accepted")
	}
}

func TestBlankOutputs(t *testing.T) {
	w := testWallet(t)
	keyset := testKeyset(t, testMintKeys(t, 1))

	tests := []struct {
		feeReserve    uint64
		expectedCount int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{5, 3},
		{1000, 10},
	}

	for _, test := range tests {
		outputs, secrets, rs, err := w.blankOutputs(test.feeReserve, keyset, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(outputs) != test.expectedCount {
			t.Errorf("fee reserve %v: expected %v blank outputs, got %v",
				test.feeReserve, test.expectedCount, len(outputs))
		}
		if len(secrets) != len(outputs) || len(rs) != len(outputs) {
			t.Error("outputs, secrets and rs misaligned")
		}
	}
}
