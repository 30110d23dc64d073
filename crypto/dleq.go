package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashE hashes the uncompressed hex serializations of the given points
// concatenated as a UTF-8 string. Used as the challenge in DLEQ proofs.
func HashE(pubkeys ...*secp256k1.PublicKey) [32]byte {
	var msg string
	for _, pk := range pubkeys {
		msg += hex.EncodeToString(pk.SerializeUncompressed())
	}
	return sha256.Sum256([]byte(msg))
}

// VerifyDLEQ checks the discrete-log-equality proof (e, s) showing the
// mint used the same private key behind A to sign B_ into C_:
//
//	R1 = s*G - e*A
//	R2 = s*B_ - e*C_
//	e == hash_e(R1, R2, A, C_)
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	if e == nil || s == nil || A == nil || B_ == nil || C_ == nil {
		return false
	}

	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = s*G - e*A
	var APoint, eANeg, sG, R1Point secp256k1.JacobianPoint
	A.AsJacobian(&APoint)
	secp256k1.ScalarMultNonConst(&eNeg, &APoint, &eANeg)
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sG)
	secp256k1.AddNonConst(&sG, &eANeg, &R1Point)
	if R1Point.Z.IsZero() {
		return false
	}
	R1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1Point.X, &R1Point.Y)

	// R2 = s*B_ - e*C_
	var B_Point, C_Point, eC_Neg, sB_, R2Point secp256k1.JacobianPoint
	B_.AsJacobian(&B_Point)
	C_.AsJacobian(&C_Point)
	secp256k1.ScalarMultNonConst(&eNeg, &C_Point, &eC_Neg)
	secp256k1.ScalarMultNonConst(&s.Key, &B_Point, &sB_)
	secp256k1.AddNonConst(&sB_, &eC_Neg, &R2Point)
	if R2Point.Z.IsZero() {
		return false
	}
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	hash := HashE(R1, R2, A, C_)
	var expected secp256k1.ModNScalar
	expected.SetBytes(&hash)

	return e.Key.Equals(&expected)
}

// GenerateDLEQ produces the proof (e, s) for a blind signature made
// with private key k on blinded message B_. Only used in tests; the
// wallet verifies proofs, the mint generates them.
func GenerateDLEQ(k *secp256k1.PrivateKey, B_ *secp256k1.PublicKey) (
	e *secp256k1.PrivateKey, s *secp256k1.PrivateKey, err error) {

	rkey, err := GenerateBlindingFactor()
	if err != nil {
		return nil, nil, err
	}

	// R1 = r*G, R2 = r*B_
	R1 := rkey.PubKey()

	var B_Point, R2Point secp256k1.JacobianPoint
	B_.AsJacobian(&B_Point)
	secp256k1.ScalarMultNonConst(&rkey.Key, &B_Point, &R2Point)
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	// C_ = k*B_
	C_, err := SignBlindedMessage(B_, k)
	if err != nil {
		return nil, nil, err
	}

	hash := HashE(R1, R2, k.PubKey(), C_)
	var eScalar secp256k1.ModNScalar
	eScalar.SetBytes(&hash)

	// s = r + e*k
	var sScalar secp256k1.ModNScalar
	sScalar.Mul2(&eScalar, &k.Key).Add(&rkey.Key)

	return secp256k1.NewPrivateKey(&eScalar), secp256k1.NewPrivateKey(&sScalar), nil
}
