package nut13

import (
	"encoding/hex"
	"testing"

	"github.com/tyler-smith/go-bip39"
)

func TestSecretDerivation(t *testing.T) {
	mnemonic := "half depart obvious quality work element tank gorilla view sugar picture humble"
	keysetId := "009a1f293253e41e"

	master, err := MasterKeyFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatal(err)
	}

	keysetPath, err := DeriveKeysetPath(master, keysetId)
	if err != nil {
		t.Fatalf("could not derive keyset path: %v", err)
	}

	secrets := make([]string, 5)
	rs := make([]string, 5)

	var i uint32 = 0
	for ; i < 5; i++ {
		secret, err := DeriveSecret(keysetPath, i)
		if err != nil {
			t.Fatalf("error deriving secret: %v", err)
		}
		secrets[i] = secret

		rkey, err := DeriveBlindingFactor(keysetPath, i)
		if err != nil {
			t.Fatalf("error deriving r: %v", err)
		}

		rbytes := rkey.Serialize()
		r := hex.EncodeToString(rbytes)
		rs[i] = r
	}

	expectedSecrets := []string{
		"485875df74771877439ac06339e284c3acfcd9be7abf3bc20b516faeadfe77ae",
		"8f2b39e8e594a4056eb1e6dbb4b0c38ef13b1b2c751f64f810ec04ee35b77270",
		"bc628c79accd2364fd31511216a0fab62afd4a18ff77a20deded7b858c9860c8",
		"59284fd1650ea9fa17db2b3acf59ecd0f2d52ec3261dd4152785813ff27a33bf",
		"576c23393a8b31cc8da6688d9c9a96394ec74b40fdaf1f693a6bb84284334ea0",
	}

	expectedRs := []string{
		"ad00d431add9c673e843d4c2bf9a778a5f402b985b8da2d5550bf39cda41d679",
		"967d5232515e10b81ff226ecf5a9e2e2aff92d66ebc3edf0987eb56357fd6248",
		"b20f47bb6ae083659f3aa986bfa0435c55c6d93f687d51a01f26862d9b9a4899",
		"fb5fca398eb0b1deb955a2988b5ac77d32956155f1c002a373535211a2dfdc29",
		"5f09bfbfe27c439a597719321e061e2e40aad4a36768bb2bcc3de547c9644bf9",
	}

	for i := 0; i < 5; i++ {
		if expectedSecrets[i] != secrets[i] {
			t.Fatalf("secret at index: %v does not match. Expected '%v' but got '%v'", i, expectedSecrets[i], secrets[i])
		}

		if expectedRs[i] != rs[i] {
			t.Fatalf("r at index: %v does not match. Expected '%v' but got '%v'", i, expectedRs[i], rs[i])
		}
	}
}

// same inputs always derive the same outputs
func TestDerivationDeterminism(t *testing.T) {
	mnemonic := "half depart obvious quality work element tank gorilla view sugar picture humble"
	keysetId := "009a1f293253e41e"

	for run := 0; run < 2; run++ {
		master, err := MasterKeyFromMnemonic(mnemonic, "")
		if err != nil {
			t.Fatal(err)
		}
		keysetPath, err := DeriveKeysetPath(master, keysetId)
		if err != nil {
			t.Fatal(err)
		}
		secret, err := DeriveSecret(keysetPath, 0)
		if err != nil {
			t.Fatal(err)
		}
		if secret != "485875df74771877439ac06339e284c3acfcd9be7abf3bc20b516faeadfe77ae" {
			t.Fatalf("derivation is not deterministic, got '%v'", secret)
		}
	}
}

func TestKeysetDerivationIndex(t *testing.T) {
	idx, err := KeysetDerivationIndex("009a1f293253e41e")
	if err != nil {
		t.Fatal(err)
	}
	if idx >= 1<<31-1 {
		t.Fatalf("index %v out of range", idx)
	}

	if _, err := KeysetDerivationIndex("zz9a1f293253e41e"); err == nil {
		t.Error("expected error for non-hex keyset id")
	}
	if _, err := KeysetDerivationIndex("009a1f29"); err == nil {
		t.Error("expected error for short keyset id")
	}
}

func TestMnemonicEntropy(t *testing.T) {
	validStrengths := map[int]int{128: 12, 160: 15, 192: 18, 224: 21, 256: 24}
	for strength, words := range validStrengths {
		mnemonic, err := NewMnemonic(strength)
		if err != nil {
			t.Fatalf("strength %v: %v", strength, err)
		}
		if !bip39.IsMnemonicValid(mnemonic) {
			t.Fatalf("generated invalid mnemonic for strength %v", strength)
		}
		wordCount := 1
		for _, c := range mnemonic {
			if c == ' ' {
				wordCount++
			}
		}
		if wordCount != words {
			t.Fatalf("strength %v: expected %v words but got %v", strength, words, wordCount)
		}
	}

	for _, strength := range []int{0, 64, 129, 288} {
		if _, err := NewMnemonic(strength); err == nil {
			t.Errorf("expected error for strength %v", strength)
		}
	}
}

func TestEntropyToMnemonicRoundTrip(t *testing.T) {
	entropy := make([]byte, 16)
	for i := range entropy {
		entropy[i] = byte(i)
	}

	mnemonic, err := EntropyToMnemonic(entropy)
	if err != nil {
		t.Fatal(err)
	}

	recovered, err := MnemonicToEntropy(mnemonic)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(recovered) != hex.EncodeToString(entropy) {
		t.Fatal("entropy round trip mismatch")
	}

	// invalid entropy sizes
	for _, size := range []int{0, 15, 17, 33} {
		if _, err := EntropyToMnemonic(make([]byte, size)); err == nil {
			t.Errorf("expected error for entropy size %v", size)
		}
	}

	if _, err := MnemonicToEntropy("not a valid mnemonic at all"); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}
