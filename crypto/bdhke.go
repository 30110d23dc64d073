// Package crypto implements the BDHKE blind signature scheme used by
// Cashu and the keyset id derivation on top of secp256k1.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// hashToCurveDomainSeparator prefixes every message before mapping it
// to a curve point.
var hashToCurveDomainSeparator = []byte("Secp256k1_HashToCurve_Cashu_")

// maxHashToCurveCounter bounds the point search. Each iteration succeeds
// with probability ~1/2 so the ceiling is unreachable in practice.
const maxHashToCurveCounter = 1 << 16

var (
	ErrInvalidPoint          = errors.New("invalid point")
	ErrInvalidScalar         = errors.New("invalid scalar")
	ErrHashToCurve           = errors.New("could not map message to a curve point")
	ErrInvalidBlindedMessage = errors.New("invalid blinded message")
)

// HashToCurve maps a message to a point on the curve. It hashes
// sha256(domain_separator || message) and then walks a little-endian
// u32 counter until sha256(msg_hash || counter) is a valid x coordinate
// of a compressed point with prefix 0x02.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgHash := sha256.Sum256(append(hashToCurveDomainSeparator, message...))

	pkhash := make([]byte, 0, 33)
	counterBytes := make([]byte, 4)
	for counter := uint32(0); counter < maxHashToCurveCounter; counter++ {
		binary.LittleEndian.PutUint32(counterBytes, counter)
		hash := sha256.Sum256(append(msgHash[:], counterBytes...))

		pkhash = append(pkhash[:0], 0x02)
		pkhash = append(pkhash, hash[:]...)
		point, err := secp256k1.ParsePubKey(pkhash)
		if err == nil && point.IsOnCurve() {
			return point, nil
		}
	}
	return nil, ErrHashToCurve
}

// BlindMessage computes B_ = Y + rG where Y = HashToCurve(secret).
// It returns the blinded message along with the blinding factor the
// caller keeps to later unblind the signature.
func BlindMessage(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	if r == nil || r.Key.IsZero() {
		return nil, nil, ErrInvalidScalar
	}

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}

	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	// B_ = Y + rG
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// SignBlindedMessage computes C_ = kB_. The blinded message must be a
// valid non-identity curve point and the signing key non-zero.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) (*secp256k1.PublicKey, error) {
	if B_ == nil || !B_.IsOnCurve() {
		return nil, ErrInvalidBlindedMessage
	}
	if k == nil || k.Key.IsZero() {
		return nil, ErrInvalidScalar
	}

	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	// C_ = kB_
	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	if result.Z.IsZero() {
		return nil, ErrInvalidBlindedMessage
	}
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_, nil
}

// UnblindSignature computes C = C_ - rK where K is the mint public key
// for the amount that was signed.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) (
	*secp256k1.PublicKey, error) {

	if C_ == nil || K == nil {
		return nil, ErrInvalidPoint
	}
	if r == nil || r.Key.IsZero() {
		return nil, ErrInvalidScalar
	}

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	var Kpoint, rKPoint, C_Point, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)
	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	if CPoint.Z.IsZero() {
		return nil, ErrInvalidPoint
	}
	CPoint.ToAffine()

	return secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y), nil
}

// Verify checks k * HashToCurve(secret) == C.
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	if k == nil || C == nil {
		return false
	}
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}

	var Ypoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}
