package nut11

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut10"
)

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func pubkeyHex(key *btcec.PrivateKey) string {
	return hex.EncodeToString(key.PubKey().SerializeCompressed())
}

func p2pkProof(t *testing.T, key *btcec.PrivateKey, tags [][]string) cashu.Proof {
	t.Helper()
	secretData := nut10.WellKnownSecret{
		Nonce: "da62796403af76c80cd6ce9153ed3746",
		Data:  pubkeyHex(key),
		Tags:  tags,
	}
	secret, err := nut10.SerializeSecret(nut10.P2PK, secretData)
	if err != nil {
		t.Fatal(err)
	}
	return cashu.Proof{Amount: 2, Id: "009a1f293253e41e", Secret: secret}
}

func signProof(t *testing.T, proof cashu.Proof, keys ...*btcec.PrivateKey) cashu.Proof {
	t.Helper()
	hash := sha256.Sum256([]byte(proof.Secret))

	signatures := make([]string, 0, len(keys))
	for _, key := range keys {
		sig, err := schnorr.Sign(key, hash[:])
		if err != nil {
			t.Fatal(err)
		}
		signatures = append(signatures, hex.EncodeToString(sig.Serialize()))
	}

	witness, err := json.Marshal(P2PKWitness{Signatures: signatures})
	if err != nil {
		t.Fatal(err)
	}
	proof.Witness = string(witness)
	return proof
}

func TestVerifyP2PKProof(t *testing.T) {
	now := time.Now()
	key := newKey(t)
	wrongKey := newKey(t)

	proof := signProof(t, p2pkProof(t, key, nil), key)
	if err := VerifyP2PKProof(proof, now); err != nil {
		t.Errorf("valid proof rejected: %v", err)
	}

	// signature by a key that is not authorized
	proof = signProof(t, p2pkProof(t, key, nil), wrongKey)
	if err := VerifyP2PKProof(proof, now); err == nil {
		t.Error("proof with wrong signature accepted")
	}

	// missing witness
	proof = p2pkProof(t, key, nil)
	if err := VerifyP2PKProof(proof, now); err == nil {
		t.Error("proof without witness accepted")
	}
}

func TestVerifyP2PKMultisig(t *testing.T) {
	now := time.Now()
	key1, key2, key3 := newKey(t), newKey(t), newKey(t)

	tags := [][]string{
		{NSIGS, "2"},
		{PUBKEYS, pubkeyHex(key2), pubkeyHex(key3)},
	}

	// 2-of-3: signatures from key1 and key3
	proof := signProof(t, p2pkProof(t, key1, tags), key1, key3)
	if err := VerifyP2PKProof(proof, now); err != nil {
		t.Errorf("valid 2-of-3 proof rejected: %v", err)
	}

	// only one signature
	proof = signProof(t, p2pkProof(t, key1, tags), key1)
	if err := VerifyP2PKProof(proof, now); err == nil {
		t.Error("1 signature accepted for n_sigs=2")
	}

	// same key twice must not count as two signers
	proof = signProof(t, p2pkProof(t, key1, tags), key1, key1)
	if err := VerifyP2PKProof(proof, now); err == nil {
		t.Error("duplicate signer accepted for n_sigs=2")
	}
}

func TestVerifyP2PKLocktime(t *testing.T) {
	now := time.Now()
	key := newKey(t)
	refundKey := newKey(t)

	expired := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	future := strconv.FormatInt(now.Add(time.Hour).Unix(), 10)

	// expired locktime with no refund keys: anyone can spend
	tags := [][]string{{LOCKTIME, expired}}
	proof := p2pkProof(t, key, tags)
	if err := VerifyP2PKProof(proof, now); err != nil {
		t.Errorf("expired lock without refund keys rejected: %v", err)
	}

	// expired locktime with refund keys: refund signature required
	tags = [][]string{{LOCKTIME, expired}, {REFUND, pubkeyHex(refundKey)}}
	proof = signProof(t, p2pkProof(t, key, tags), refundKey)
	if err := VerifyP2PKProof(proof, now); err != nil {
		t.Errorf("valid refund spend rejected: %v", err)
	}

	// primary key cannot spend the refund branch
	proof = signProof(t, p2pkProof(t, key, tags), key)
	if err := VerifyP2PKProof(proof, now); err == nil {
		t.Error("primary key accepted on refund branch")
	}

	// before the locktime the primary key path applies
	tags = [][]string{{LOCKTIME, future}, {REFUND, pubkeyHex(refundKey)}}
	proof = signProof(t, p2pkProof(t, key, tags), key)
	if err := VerifyP2PKProof(proof, now); err != nil {
		t.Errorf("valid pre-locktime spend rejected: %v", err)
	}
}

// a locktime equal to the current second activates the refund branch
func TestLocktimeExpiredInclusive(t *testing.T) {
	now := time.Unix(1700000000, 0)
	if !LocktimeExpired(1700000000, now) {
		t.Error("locktime equal to now should count as expired")
	}
	if LocktimeExpired(1700000001, now) {
		t.Error("future locktime should not be expired")
	}
	if LocktimeExpired(0, now) {
		t.Error("zero locktime means no lock")
	}
}

func TestSigAll(t *testing.T) {
	now := time.Now()
	key := newKey(t)

	tags := [][]string{{SIGFLAG, SIGALL}}
	proof := p2pkProof(t, key, tags)
	proof2 := p2pkProof(t, key, tags)

	outputs := cashu.BlindedMessages{
		{Amount: 2, B_: "02a9acc1e48c25eeeb9289b5031cc57da9fe72f3fe2861d264bdc074209b107ba2"},
	}

	inputs, err := AddSignatureSigAll(cashu.Proofs{proof, proof2}, outputs, key)
	if err != nil {
		t.Fatal(err)
	}

	if !ProofsSigAll(inputs) {
		t.Error("SIG_ALL flag not detected")
	}
	if err := VerifySigAll(inputs, outputs, now); err != nil {
		t.Errorf("valid SIG_ALL transaction rejected: %v", err)
	}

	// changing an output invalidates the signature
	tampered := cashu.BlindedMessages{
		{Amount: 2, B_: "0398bc70ce8184d27ba89834d19f5199c84443c31131e48d3c1214db24247d005d"},
	}
	if err := VerifySigAll(inputs, tampered, now); err == nil {
		t.Error("tampered SIG_ALL transaction accepted")
	}
}

func TestParseP2PKTags(t *testing.T) {
	key := newKey(t)

	tags := [][]string{
		{SIGFLAG, SIGALL},
		{NSIGS, "2"},
		{PUBKEYS, pubkeyHex(key)},
		{LOCKTIME, "1689418329"},
		{REFUND, pubkeyHex(key)},
	}

	parsed, err := ParseP2PKTags(tags)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Sigflag != SIGALL {
		t.Errorf("wrong sigflag: %v", parsed.Sigflag)
	}
	if parsed.NSigs != 2 {
		t.Errorf("wrong n_sigs: %v", parsed.NSigs)
	}
	if len(parsed.Pubkeys) != 1 || len(parsed.Refund) != 1 {
		t.Error("pubkeys or refund not parsed")
	}
	if parsed.Locktime != 1689418329 {
		t.Errorf("wrong locktime: %v", parsed.Locktime)
	}

	// round trip through SerializeP2PKTags
	reparsed, err := ParseP2PKTags(SerializeP2PKTags(*parsed))
	if err != nil {
		t.Fatal(err)
	}
	if reparsed.NSigs != parsed.NSigs || reparsed.Locktime != parsed.Locktime {
		t.Error("tags round trip mismatch")
	}

	// invalid tags
	if _, err := ParseP2PKTags([][]string{{SIGFLAG}}); err == nil {
		t.Error("short tag accepted")
	}
	if _, err := ParseP2PKTags([][]string{{SIGFLAG, "SIG_NONE"}}); err == nil {
		t.Error("unknown sigflag accepted")
	}
	if _, err := ParseP2PKTags([][]string{{NSIGS, "x"}}); err == nil {
		t.Error("non-numeric n_sigs accepted")
	}
	tooMany := [][]string{
		{SIGFLAG, SIGINPUTS}, {NSIGS, "1"}, {PUBKEYS, pubkeyHex(key)},
		{LOCKTIME, "1"}, {REFUND, pubkeyHex(key)}, {"extra", "tag"},
	}
	if _, err := ParseP2PKTags(tooMany); err == nil {
		t.Error("too many tags accepted")
	}
}

func TestCanSign(t *testing.T) {
	key := newKey(t)
	other := newKey(t)

	secret := nut10.WellKnownSecret{
		Nonce: "nonce",
		Data:  pubkeyHex(key),
	}

	if !CanSign(secret, key) {
		t.Error("owner key cannot sign")
	}
	if CanSign(secret, other) {
		t.Error("foreign key can sign")
	}
}
