package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
)

const (
	// URIPrefix optionally wraps a serialized token (cashu:cashuB...).
	URIPrefix = "cashu:"

	TokenV3Prefix = "cashuA"
	TokenV4Prefix = "cashuB"
)

var (
	ErrInvalidTokenV3      = errors.New("invalid V3 token")
	ErrInvalidTokenV4      = errors.New("invalid V4 token")
	ErrEmptyToken          = errors.New("token has no proofs")
	ErrInvalidProof        = errors.New("invalid proof")
	ErrTokenAmountMismatch = errors.New("token amount does not match sum of proofs")
)

// Validate applies the structural proof checks: positive amount,
// non-empty keyset id and secret, C decodable as a compressed point.
func (p Proof) Validate() error {
	if p.Amount == 0 {
		return fmt.Errorf("%w: amount cannot be 0", ErrInvalidProof)
	}
	if len(p.Id) == 0 {
		return fmt.Errorf("%w: empty keyset id", ErrInvalidProof)
	}
	if len(p.Secret) == 0 {
		return fmt.Errorf("%w: empty secret", ErrInvalidProof)
	}
	CBytes, err := hex.DecodeString(p.C)
	if err != nil {
		return fmt.Errorf("%w: invalid C: %v", ErrInvalidProof, err)
	}
	if _, err := secp256k1.ParsePubKey(CBytes); err != nil {
		return fmt.Errorf("%w: invalid C: %v", ErrInvalidProof, err)
	}
	return nil
}

// Cashu token. See https://github.com/cashubtc/nuts/blob/main/00.md#token-format
type Token interface {
	Proofs() Proofs
	Mint() string
	Amount() uint64
	Serialize() (string, error)
}

// DecodeToken decodes a serialized token in either format, stripping
// the optional cashu: URI prefix first.
func DecodeToken(tokenstr string) (Token, error) {
	tokenstr = strings.TrimPrefix(tokenstr, URIPrefix)

	token, err := DecodeTokenV4(tokenstr)
	if err != nil {
		// if err, try decoding as V3
		tokenV3, err := DecodeTokenV3(tokenstr)
		if err != nil {
			return nil, fmt.Errorf("invalid token: %v", err)
		}
		return tokenV3, nil
	}
	return token, nil
}

type TokenV3 struct {
	Token []TokenV3Proof `json:"token"`
	Unit  string         `json:"unit"`
	Memo  string         `json:"memo,omitempty"`
}

type TokenV3Proof struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

func NewTokenV3(proofs Proofs, mint string, unit Unit, memo string, includeDLEQ bool) (TokenV3, error) {
	if len(proofs) == 0 {
		return TokenV3{}, ErrEmptyToken
	}
	if !includeDLEQ {
		for i := 0; i < len(proofs); i++ {
			proofs[i].DLEQ = nil
		}
	}

	if unit != Sat {
		return TokenV3{}, ErrInvalidUnit
	}

	tokenProof := TokenV3Proof{Mint: mint, Proofs: proofs}
	return TokenV3{Token: []TokenV3Proof{tokenProof}, Unit: unit.String(), Memo: memo}, nil
}

func DecodeTokenV3(tokenstr string) (*TokenV3, error) {
	tokenstr = strings.TrimPrefix(tokenstr, URIPrefix)
	if len(tokenstr) < len(TokenV3Prefix) {
		return nil, ErrInvalidTokenV3
	}
	prefixVersion := tokenstr[:6]
	base64Token := tokenstr[6:]

	if prefixVersion != TokenV3Prefix {
		return nil, ErrInvalidTokenV3
	}

	tokenBytes, err := decodeBase64URLSafe(base64Token)
	if err != nil {
		return nil, fmt.Errorf("error decoding token: %v", err)
	}

	var token TokenV3
	err = json.Unmarshal(tokenBytes, &token)
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling token: %v", err)
	}

	if err := token.Validate(); err != nil {
		return nil, err
	}

	return &token, nil
}

// Validate rejects tokens with no entries, no proofs or invalid proofs.
func (t TokenV3) Validate() error {
	if len(t.Token) == 0 {
		return ErrEmptyToken
	}
	var total uint64
	var count int
	for _, entry := range t.Token {
		for _, proof := range entry.Proofs {
			if err := proof.Validate(); err != nil {
				return err
			}
			var overflows bool
			total, overflows = OverflowAddUint64(total, proof.Amount)
			if overflows {
				return ErrAmountOverflows
			}
			count++
		}
	}
	if count == 0 {
		return ErrEmptyToken
	}
	if total != t.Amount() {
		return ErrTokenAmountMismatch
	}
	return nil
}

func (t TokenV3) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, tokenProof := range t.Token {
		proofs = append(proofs, tokenProof.Proofs...)
	}
	return proofs
}

func (t TokenV3) Mint() string {
	return t.Token[0].Mint
}

func (t TokenV3) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, tokenProof := range t.Token {
		for _, proof := range tokenProof.Proofs {
			totalAmount += proof.Amount
		}
	}
	return totalAmount
}

func (t TokenV3) Serialize() (string, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	token := TokenV3Prefix + base64.RawURLEncoding.EncodeToString(jsonBytes)
	return token, nil
}

type TokenV4 struct {
	TokenProofs []TokenV4Proof `json:"t"`
	Memo        string         `json:"d,omitempty"`
	MintURL     string         `json:"m"`
	Unit        string         `json:"u"`
}

type TokenV4Proof struct {
	Id     []byte    `json:"i"`
	Proofs []ProofV4 `json:"p"`
}

func (tp *TokenV4Proof) MarshalJSON() ([]byte, error) {
	tokenProof := struct {
		Id     string    `json:"i"`
		Proofs []ProofV4 `json:"p"`
	}{
		Id:     hex.EncodeToString(tp.Id),
		Proofs: tp.Proofs,
	}
	return json.Marshal(tokenProof)
}

type ProofV4 struct {
	Amount  uint64  `json:"a"`
	Secret  string  `json:"s"`
	C       []byte  `json:"c"`
	Witness string  `json:"w,omitempty"`
	DLEQ    *DLEQV4 `json:"d,omitempty"`
}

func (p *ProofV4) MarshalJSON() ([]byte, error) {
	proof := struct {
		Amount  uint64  `json:"a"`
		Secret  string  `json:"s"`
		C       string  `json:"c"`
		Witness string  `json:"w,omitempty"`
		DLEQ    *DLEQV4 `json:"d,omitempty"`
	}{
		Amount:  p.Amount,
		Secret:  p.Secret,
		C:       hex.EncodeToString(p.C),
		Witness: p.Witness,
		DLEQ:    p.DLEQ,
	}
	return json.Marshal(proof)
}

type DLEQV4 struct {
	E []byte `json:"e"`
	S []byte `json:"s"`
	R []byte `json:"r"`
}

func (d *DLEQV4) MarshalJSON() ([]byte, error) {
	dleq := DLEQProof{
		E: hex.EncodeToString(d.E),
		S: hex.EncodeToString(d.S),
		R: hex.EncodeToString(d.R),
	}
	return json.Marshal(dleq)
}

func NewTokenV4(proofs Proofs, mint string, unit Unit, memo string, includeDLEQ bool) (TokenV4, error) {
	if len(proofs) == 0 {
		return TokenV4{}, ErrEmptyToken
	}
	if unit != Sat {
		return TokenV4{}, ErrInvalidUnit
	}

	proofsMap := make(map[string][]ProofV4)
	keysetIds := make([]string, 0)
	for _, proof := range proofs {
		C, err := hex.DecodeString(proof.C)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid C: %v", err)
		}
		proofV4 := ProofV4{
			Amount:  proof.Amount,
			Secret:  proof.Secret,
			C:       C,
			Witness: proof.Witness,
		}
		if includeDLEQ && proof.DLEQ != nil {
			e, err := hex.DecodeString(proof.DLEQ.E)
			if err != nil {
				return TokenV4{}, fmt.Errorf("invalid e in DLEQ proof: %v", err)
			}
			s, err := hex.DecodeString(proof.DLEQ.S)
			if err != nil {
				return TokenV4{}, fmt.Errorf("invalid s in DLEQ proof: %v", err)
			}
			if len(proof.DLEQ.R) == 0 {
				return TokenV4{}, errors.New("r in DLEQ proof cannot be empty")
			}
			r, err := hex.DecodeString(proof.DLEQ.R)
			if err != nil {
				return TokenV4{}, fmt.Errorf("invalid r in DLEQ proof: %v", err)
			}
			proofV4.DLEQ = &DLEQV4{E: e, S: s, R: r}
		}
		if _, ok := proofsMap[proof.Id]; !ok {
			keysetIds = append(keysetIds, proof.Id)
		}
		proofsMap[proof.Id] = append(proofsMap[proof.Id], proofV4)
	}

	proofsV4 := make([]TokenV4Proof, len(keysetIds))
	for i, id := range keysetIds {
		keysetIdBytes, err := hex.DecodeString(id)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid keyset id: %v", err)
		}
		proofsV4[i] = TokenV4Proof{Id: keysetIdBytes, Proofs: proofsMap[id]}
	}

	return TokenV4{MintURL: mint, Unit: unit.String(), Memo: memo, TokenProofs: proofsV4}, nil
}

func DecodeTokenV4(tokenstr string) (*TokenV4, error) {
	tokenstr = strings.TrimPrefix(tokenstr, URIPrefix)
	if len(tokenstr) < len(TokenV4Prefix) {
		return nil, ErrInvalidTokenV4
	}
	prefixVersion := tokenstr[:6]
	base64Token := tokenstr[6:]
	if prefixVersion != TokenV4Prefix {
		return nil, ErrInvalidTokenV4
	}

	tokenBytes, err := decodeBase64URLSafe(base64Token)
	if err != nil {
		return nil, fmt.Errorf("error decoding token: %v", err)
	}

	var tokenV4 TokenV4
	err = cbor.Unmarshal(tokenBytes, &tokenV4)
	if err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}

	if err := tokenV4.Validate(); err != nil {
		return nil, err
	}

	return &tokenV4, nil
}

// Validate rejects tokens with no entries, no proofs or invalid proofs.
func (t TokenV4) Validate() error {
	if len(t.TokenProofs) == 0 {
		return ErrEmptyToken
	}
	proofs := t.Proofs()
	if len(proofs) == 0 {
		return ErrEmptyToken
	}
	var total uint64
	for _, proof := range proofs {
		if err := proof.Validate(); err != nil {
			return err
		}
		var overflows bool
		total, overflows = OverflowAddUint64(total, proof.Amount)
		if overflows {
			return ErrAmountOverflows
		}
	}
	if total != t.Amount() {
		return ErrTokenAmountMismatch
	}
	return nil
}

func (t TokenV4) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, tokenV4Proof := range t.TokenProofs {
		keysetId := hex.EncodeToString(tokenV4Proof.Id)
		for _, proofV4 := range tokenV4Proof.Proofs {
			proof := Proof{
				Amount:  proofV4.Amount,
				Id:      keysetId,
				Secret:  proofV4.Secret,
				C:       hex.EncodeToString(proofV4.C),
				Witness: proofV4.Witness,
			}
			if proofV4.DLEQ != nil {
				proof.DLEQ = &DLEQProof{
					E: hex.EncodeToString(proofV4.DLEQ.E),
					S: hex.EncodeToString(proofV4.DLEQ.S),
					R: hex.EncodeToString(proofV4.DLEQ.R),
				}
			}
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func (t TokenV4) Mint() string {
	return t.MintURL
}

func (t TokenV4) Amount() uint64 {
	var totalAmount uint64
	for _, proof := range t.Proofs() {
		totalAmount += proof.Amount
	}
	return totalAmount
}

func (t TokenV4) Serialize() (string, error) {
	cborData, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}

	token := TokenV4Prefix + base64.RawURLEncoding.EncodeToString(cborData)
	return token, nil
}

// decodeBase64URLSafe accepts URL-safe base64 with or without padding.
// The standard alphabet ('+', '/') is rejected.
func decodeBase64URLSafe(data string) ([]byte, error) {
	if strings.ContainsAny(data, "+/") {
		return nil, errors.New("token is not URL-safe base64")
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return nil, err
		}
	}
	return decoded, nil
}
