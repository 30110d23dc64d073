// Package nut11 implements Pay-to-Public-Key spending conditions as
// defined in [NUT-11].
//
// [NUT-11]: https://github.com/cashubtc/nuts/blob/main/11.md
package nut11

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut10"
	"github.com/cashukit/cashukit/crypto"
)

const (
	// supported tags
	SIGFLAG  = "sigflag"
	NSIGS    = "n_sigs"
	PUBKEYS  = "pubkeys"
	LOCKTIME = "locktime"
	REFUND   = "refund"

	// SIGFLAG types
	SIGINPUTS = "SIG_INPUTS"
	SIGALL    = "SIG_ALL"

	// Error code
	NUT11ErrCode cashu.CashuErrCode = 30001
)

type SigFlag int

const (
	SigInputs SigFlag = iota
	SigAll
	Unknown
)

// errors
var (
	InvalidTagErr            = cashu.Error{Detail: "invalid tag", Code: NUT11ErrCode}
	TooManyTagsErr           = cashu.Error{Detail: "too many tags", Code: NUT11ErrCode}
	NSigsMustBePositiveErr   = cashu.Error{Detail: "n_sigs must be a positive integer", Code: NUT11ErrCode}
	EmptyPubkeysErr          = cashu.Error{Detail: "pubkeys tag cannot be empty if n_sigs tag is present", Code: NUT11ErrCode}
	EmptyWitnessErr          = cashu.Error{Detail: "witness cannot be empty", Code: NUT11ErrCode}
	InvalidWitness           = cashu.Error{Detail: "invalid witness", Code: NUT11ErrCode}
	NoSignaturesErr          = cashu.Error{Detail: "no signatures in witness", Code: NUT11ErrCode}
	DuplicateSignaturesErr   = cashu.Error{Detail: "duplicate signatures", Code: NUT11ErrCode}
	NotEnoughSignaturesErr   = cashu.Error{Detail: "not enough valid signatures provided", Code: NUT11ErrCode}
	AllSigAllFlagsErr        = cashu.Error{Detail: "all flags must be SIG_ALL", Code: NUT11ErrCode}
	SigAllKeysMustBeEqualErr = cashu.Error{Detail: "all public keys must be the same for SIG_ALL", Code: NUT11ErrCode}
	SigAllOnlySwap           = cashu.Error{Detail: "SIG_ALL can only be used in /swap operation", Code: NUT11ErrCode}
	NSigsMustBeEqualErr      = cashu.Error{Detail: "all n_sigs must be the same for SIG_ALL", Code: NUT11ErrCode}
)

type P2PKWitness struct {
	Signatures []string `json:"signatures"`
}

type P2PKTags struct {
	Sigflag  string
	NSigs    int
	Pubkeys  []*btcec.PublicKey
	Locktime int64
	Refund   []*btcec.PublicKey
}

// P2PKSecret returns a secret with a spending condition
// that will lock ecash to a public key
func P2PKSecret(pubkey string) (string, error) {
	nonceBytes, err := crypto.RandomBytes(32)
	if err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(nonceBytes)

	secretData := nut10.WellKnownSecret{
		Nonce: nonce,
		Data:  pubkey,
	}

	secret, err := nut10.SerializeSecret(nut10.P2PK, secretData)
	if err != nil {
		return "", err
	}

	return secret, nil
}

func ParseP2PKTags(tags [][]string) (*P2PKTags, error) {
	if len(tags) > 5 {
		return nil, TooManyTagsErr
	}

	p2pkTags := P2PKTags{}

	for _, tag := range tags {
		if len(tag) < 2 {
			return nil, InvalidTagErr
		}
		tagType := tag[0]
		switch tagType {
		case SIGFLAG:
			sigflagType := tag[1]
			if sigflagType == SIGINPUTS || sigflagType == SIGALL {
				p2pkTags.Sigflag = sigflagType
			} else {
				errmsg := fmt.Sprintf("invalid sigflag: %v", sigflagType)
				return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
			}
		case NSIGS:
			nstr := tag[1]
			nsig, err := strconv.ParseInt(nstr, 10, 8)
			if err != nil {
				errmsg := fmt.Sprintf("invalid n_sigs value: %v", err)
				return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
			}
			if nsig < 0 {
				return nil, NSigsMustBePositiveErr
			}
			p2pkTags.NSigs = int(nsig)
		case PUBKEYS:
			pubkeys := make([]*btcec.PublicKey, len(tag)-1)
			for i := 1; i < len(tag); i++ {
				pubkey, err := ParsePublicKey(tag[i])
				if err != nil {
					return nil, err
				}
				pubkeys[i-1] = pubkey
			}
			p2pkTags.Pubkeys = pubkeys
		case LOCKTIME:
			locktimestr := tag[1]
			locktime, err := strconv.ParseInt(locktimestr, 10, 64)
			if err != nil {
				errmsg := fmt.Sprintf("invalid locktime: %v", err)
				return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
			}
			p2pkTags.Locktime = locktime
		case REFUND:
			refundKeys := make([]*btcec.PublicKey, len(tag)-1)
			for i := 1; i < len(tag); i++ {
				pubkey, err := ParsePublicKey(tag[i])
				if err != nil {
					return nil, err
				}
				refundKeys[i-1] = pubkey
			}
			p2pkTags.Refund = refundKeys
		}
	}

	return &p2pkTags, nil
}

// SerializeP2PKTags builds the tag list from a P2PKTags value, only
// emitting tags that are set.
func SerializeP2PKTags(p2pkTags P2PKTags) [][]string {
	tags := make([][]string, 0)
	if len(p2pkTags.Sigflag) > 0 {
		tags = append(tags, []string{SIGFLAG, p2pkTags.Sigflag})
	}
	if p2pkTags.NSigs > 0 {
		tags = append(tags, []string{NSIGS, strconv.Itoa(p2pkTags.NSigs)})
	}
	if len(p2pkTags.Pubkeys) > 0 {
		pubkeys := []string{PUBKEYS}
		for _, pk := range p2pkTags.Pubkeys {
			pubkeys = append(pubkeys, hex.EncodeToString(pk.SerializeCompressed()))
		}
		tags = append(tags, pubkeys)
	}
	if p2pkTags.Locktime > 0 {
		tags = append(tags, []string{LOCKTIME, strconv.FormatInt(p2pkTags.Locktime, 10)})
	}
	if len(p2pkTags.Refund) > 0 {
		refund := []string{REFUND}
		for _, pk := range p2pkTags.Refund {
			refund = append(refund, hex.EncodeToString(pk.SerializeCompressed()))
		}
		tags = append(tags, refund)
	}
	return tags
}

// LocktimeExpired reports whether the refund branch is active.
// A locktime equal to the current second counts as expired.
func LocktimeExpired(locktime int64, now time.Time) bool {
	return locktime > 0 && now.Unix() >= locktime
}

func AddSignatureToInputs(inputs cashu.Proofs, signingKey *btcec.PrivateKey) (cashu.Proofs, error) {
	for i, proof := range inputs {
		hash := sha256.Sum256([]byte(proof.Secret))
		signature, err := schnorr.Sign(signingKey, hash[:])
		if err != nil {
			return nil, err
		}
		signatureBytes := signature.Serialize()

		p2pkWitness := P2PKWitness{
			Signatures: []string{hex.EncodeToString(signatureBytes)},
		}

		witness, err := json.Marshal(p2pkWitness)
		if err != nil {
			return nil, err
		}
		proof.Witness = string(witness)
		inputs[i] = proof
	}

	return inputs, nil
}

func AddSignatureToOutputs(
	outputs cashu.BlindedMessages,
	signingKey *btcec.PrivateKey,
) (cashu.BlindedMessages, error) {
	for i, output := range outputs {
		msgToSign, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, err
		}

		hash := sha256.Sum256(msgToSign)
		signature, err := schnorr.Sign(signingKey, hash[:])
		if err != nil {
			return nil, err
		}
		signatureBytes := signature.Serialize()

		p2pkWitness := P2PKWitness{
			Signatures: []string{hex.EncodeToString(signatureBytes)},
		}

		witness, err := json.Marshal(p2pkWitness)
		if err != nil {
			return nil, err
		}
		output.Witness = string(witness)
		outputs[i] = output
	}

	return outputs, nil
}

// SigAllMessage builds the message a SIG_ALL signature commits to:
// the concatenation of every input secret followed by every output B_.
func SigAllMessage(inputs cashu.Proofs, outputs cashu.BlindedMessages) []byte {
	var msg []byte
	for _, proof := range inputs {
		msg = append(msg, []byte(proof.Secret)...)
	}
	for _, output := range outputs {
		msg = append(msg, []byte(output.B_)...)
	}
	return msg
}

// AddSignatureSigAll signs the whole transaction and attaches the
// witness to the first input, per SIG_ALL.
func AddSignatureSigAll(
	inputs cashu.Proofs,
	outputs cashu.BlindedMessages,
	signingKey *btcec.PrivateKey,
) (cashu.Proofs, error) {
	if len(inputs) == 0 {
		return nil, NoSignaturesErr
	}

	hash := sha256.Sum256(SigAllMessage(inputs, outputs))
	signature, err := schnorr.Sign(signingKey, hash[:])
	if err != nil {
		return nil, err
	}

	p2pkWitness := P2PKWitness{
		Signatures: []string{hex.EncodeToString(signature.Serialize())},
	}
	witness, err := json.Marshal(p2pkWitness)
	if err != nil {
		return nil, err
	}
	inputs[0].Witness = string(witness)

	return inputs, nil
}

// PublicKeys returns a list of public keys that can sign
// a P2PK locked proof
func PublicKeys(secret nut10.WellKnownSecret) ([]*btcec.PublicKey, error) {
	p2pkTags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return nil, err
	}

	pubkey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return nil, err
	}
	pubkeys := append([]*btcec.PublicKey{pubkey}, p2pkTags.Pubkeys...)
	return pubkeys, nil
}

func IsSecretP2PK(proof cashu.Proof) bool {
	return nut10.SecretType(proof) == nut10.P2PK
}

// ProofsSigAll returns true if at least one of the proofs
// in the list has a SIG_ALL flag
func ProofsSigAll(proofs cashu.Proofs) bool {
	for _, proof := range proofs {
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			continue
		}

		if IsSigAll(secret) {
			return true
		}
	}
	return false
}

func IsSigAll(secret nut10.WellKnownSecret) bool {
	for _, tag := range secret.Tags {
		if len(tag) == 2 {
			if tag[0] == SIGFLAG && tag[1] == SIGALL {
				return true
			}
		}
	}

	return false
}

func CanSign(secret nut10.WellKnownSecret, key *btcec.PrivateKey) bool {
	publicKey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return false
	}

	return slices.Equal(publicKey.SerializeCompressed(), key.PubKey().SerializeCompressed())
}

// DuplicateSignatures reports whether the same signature appears twice.
func DuplicateSignatures(signatures []string) bool {
	seen := make(map[string]bool, len(signatures))
	for _, sig := range signatures {
		if seen[sig] {
			return true
		}
		seen[sig] = true
	}
	return false
}

// HasValidSignatures verifies there are at least nSigs distinct valid
// signatures over hash from the given set of public keys.
func HasValidSignatures(hash []byte, signatures []string, nSigs int, pubkeys []*btcec.PublicKey) bool {
	pubkeysCopy := make([]*btcec.PublicKey, len(pubkeys))
	copy(pubkeysCopy, pubkeys)

	validSignatures := 0
	for _, signature := range signatures {
		sig, err := ParseSignature(signature)
		if err != nil {
			continue
		}

		for i, pubkey := range pubkeysCopy {
			if sig.Verify(hash, pubkey) {
				validSignatures++
				// each key counts once
				pubkeysCopy = slices.Delete(pubkeysCopy, i, i+1)
				break
			}
		}
	}

	return validSignatures >= nSigs
}

// VerifyP2PKProof checks the witness of a P2PK locked proof against
// its spending condition.
func VerifyP2PKProof(proof cashu.Proof, now time.Time) error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return err
	}

	p2pkTags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	hash := sha256.Sum256([]byte(proof.Secret))

	if LocktimeExpired(p2pkTags.Locktime, now) {
		// universally spendable once the lock expired with no refund keys
		if len(p2pkTags.Refund) == 0 {
			return nil
		}
		witness, err := parseWitness(proof.Witness)
		if err != nil {
			return err
		}
		if !HasValidSignatures(hash[:], witness.Signatures, 1, p2pkTags.Refund) {
			return NotEnoughSignaturesErr
		}
		return nil
	}

	witness, err := parseWitness(proof.Witness)
	if err != nil {
		return err
	}
	if DuplicateSignatures(witness.Signatures) {
		return DuplicateSignaturesErr
	}

	pubkey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return err
	}
	authorized := append([]*btcec.PublicKey{pubkey}, p2pkTags.Pubkeys...)

	nSigs := p2pkTags.NSigs
	if nSigs == 0 {
		nSigs = 1
	}

	if !HasValidSignatures(hash[:], witness.Signatures, nSigs, authorized) {
		return NotEnoughSignaturesErr
	}
	return nil
}

// VerifySigAll checks a SIG_ALL witness over the whole transaction.
func VerifySigAll(
	inputs cashu.Proofs,
	outputs cashu.BlindedMessages,
	now time.Time,
) error {
	if len(inputs) == 0 {
		return NoSignaturesErr
	}

	secret, err := nut10.DeserializeSecret(inputs[0].Secret)
	if err != nil {
		return err
	}
	if !IsSigAll(secret) {
		return AllSigAllFlagsErr
	}

	// all inputs must share the same condition
	for _, proof := range inputs[1:] {
		otherSecret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return err
		}
		if otherSecret.Data != secret.Data {
			return SigAllKeysMustBeEqualErr
		}
		if !IsSigAll(otherSecret) {
			return AllSigAllFlagsErr
		}
	}

	p2pkTags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	witness, err := parseWitness(inputs[0].Witness)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(SigAllMessage(inputs, outputs))

	pubkey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return err
	}
	authorized := append([]*btcec.PublicKey{pubkey}, p2pkTags.Pubkeys...)

	nSigs := p2pkTags.NSigs
	if nSigs == 0 {
		nSigs = 1
	}

	if !HasValidSignatures(hash[:], witness.Signatures, nSigs, authorized) {
		return NotEnoughSignaturesErr
	}
	return nil
}

func parseWitness(witness string) (P2PKWitness, error) {
	if len(witness) == 0 {
		return P2PKWitness{}, EmptyWitnessErr
	}
	var p2pkWitness P2PKWitness
	if err := json.Unmarshal([]byte(witness), &p2pkWitness); err != nil {
		return P2PKWitness{}, InvalidWitness
	}
	if len(p2pkWitness.Signatures) == 0 {
		return P2PKWitness{}, NoSignaturesErr
	}
	return p2pkWitness, nil
}

func ParsePublicKey(key string) (*btcec.PublicKey, error) {
	hexPubkey, err := hex.DecodeString(key)
	if err != nil {
		errmsg := fmt.Sprintf("invalid public key: %v", err)
		return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
	}
	pubkey, err := btcec.ParsePubKey(hexPubkey)
	if err != nil {
		errmsg := fmt.Sprintf("invalid public key: %v", err)
		return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
	}
	return pubkey, nil
}

func ParseSignature(signature string) (*schnorr.Signature, error) {
	hexSig, err := hex.DecodeString(signature)
	if err != nil {
		errmsg := fmt.Sprintf("invalid signature: %v", err)
		return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
	}
	sig, err := schnorr.ParseSignature(hexSig)
	if err != nil {
		errmsg := fmt.Sprintf("invalid signature: %v", err)
		return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
	}

	return sig, nil
}
