// Package nut20 implements mint quote signatures as defined in
// [NUT-20].
//
// [NUT-20]: https://github.com/cashubtc/nuts/blob/main/20.md
package nut20

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cashukit/cashukit/cashu"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MessageToSign is the UTF-8 concatenation of the quote id and every
// output B_ in caller order. No sorting is applied.
func MessageToSign(quoteId string, blindedMessages cashu.BlindedMessages) []byte {
	msg := quoteId
	for _, bm := range blindedMessages {
		msg += bm.B_
	}
	return []byte(msg)
}

func SignMintQuote(
	privateKey *secp256k1.PrivateKey,
	quoteId string,
	blindedMessages cashu.BlindedMessages,
) (*schnorr.Signature, error) {
	hash := sha256.Sum256(MessageToSign(quoteId, blindedMessages))
	sig, err := schnorr.Sign(privateKey, hash[:])
	if err != nil {
		return nil, err
	}

	return sig, nil
}

func VerifyMintQuoteSignature(
	signature *schnorr.Signature,
	quoteId string,
	blindedMessages cashu.BlindedMessages,
	publicKey *secp256k1.PublicKey,
) bool {
	hash := sha256.Sum256(MessageToSign(quoteId, blindedMessages))
	return signature.Verify(hash[:], publicKey)
}
