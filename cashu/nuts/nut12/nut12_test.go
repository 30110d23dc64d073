package nut12

import (
	"encoding/hex"
	"testing"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/crypto"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestVerifyBlindSignatureDLEQ(t *testing.T) {
	mintKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	r, err := crypto.GenerateBlindingFactor()
	if err != nil {
		t.Fatal(err)
	}
	secret := "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837"
	B_, r, err := crypto.BlindMessage(secret, r)
	if err != nil {
		t.Fatal(err)
	}
	C_, err := crypto.SignBlindedMessage(B_, mintKey)
	if err != nil {
		t.Fatal(err)
	}

	e, s, err := crypto.GenerateDLEQ(mintKey, B_)
	if err != nil {
		t.Fatal(err)
	}

	dleq := cashu.DLEQProof{
		E: hex.EncodeToString(e.Serialize()),
		S: hex.EncodeToString(s.Serialize()),
	}

	B_str := hex.EncodeToString(B_.SerializeCompressed())
	C_str := hex.EncodeToString(C_.SerializeCompressed())

	if !VerifyBlindSignatureDLEQ(dleq, mintKey.PubKey(), B_str, C_str) {
		t.Error("valid DLEQ proof did not verify")
	}

	// a different mint key must not verify
	otherKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	if VerifyBlindSignatureDLEQ(dleq, otherKey.PubKey(), B_str, C_str) {
		t.Error("DLEQ proof verified against wrong key")
	}
}

func TestVerifyProofDLEQ(t *testing.T) {
	mintKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	r, err := crypto.GenerateBlindingFactor()
	if err != nil {
		t.Fatal(err)
	}
	secret := "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837"
	B_, r, err := crypto.BlindMessage(secret, r)
	if err != nil {
		t.Fatal(err)
	}
	C_, err := crypto.SignBlindedMessage(B_, mintKey)
	if err != nil {
		t.Fatal(err)
	}
	C, err := crypto.UnblindSignature(C_, r, mintKey.PubKey())
	if err != nil {
		t.Fatal(err)
	}

	e, s, err := crypto.GenerateDLEQ(mintKey, B_)
	if err != nil {
		t.Fatal(err)
	}

	proof := cashu.Proof{
		Amount: 2,
		Id:     "009a1f293253e41e",
		Secret: secret,
		C:      hex.EncodeToString(C.SerializeCompressed()),
		DLEQ: &cashu.DLEQProof{
			E: hex.EncodeToString(e.Serialize()),
			S: hex.EncodeToString(s.Serialize()),
			R: hex.EncodeToString(r.Serialize()),
		},
	}

	if !VerifyProofDLEQ(proof, mintKey.PubKey()) {
		t.Error("valid proof DLEQ did not verify")
	}

	// missing r cannot be verified on a proof
	proof.DLEQ.R = ""
	if VerifyProofDLEQ(proof, mintKey.PubKey()) {
		t.Error("proof DLEQ without r verified")
	}
}

func TestVerifyProofsDLEQ(t *testing.T) {
	mintKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyset := crypto.WalletKeyset{
		Id:         "009a1f293253e41e",
		PublicKeys: crypto.PublicKeys{2: mintKey.PubKey()},
	}

	// proofs without DLEQ pass
	proofs := cashu.Proofs{{Amount: 2, Id: keyset.Id, Secret: "plain", C: "02aa"}}
	if !VerifyProofsDLEQ(proofs, keyset) {
		t.Error("proofs without DLEQ should pass")
	}

	// a proof amount with no mint key fails
	proofs = cashu.Proofs{{
		Amount: 4, Id: keyset.Id, Secret: "plain", C: "02aa",
		DLEQ: &cashu.DLEQProof{E: "aa", S: "bb", R: "cc"},
	}}
	if VerifyProofsDLEQ(proofs, keyset) {
		t.Error("proof for unknown amount should fail")
	}
}
