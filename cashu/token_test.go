package cashu

import (
	"reflect"
	"strings"
	"testing"
)

// canonical NUT-00 example token
const tokenV3Str = "cashuAeyJ0b2tlbiI6W3sibWludCI6Imh0dHBzOi8vODMzMy5zcGFjZTozMzM4IiwicHJvb2ZzIjpbeyJhbW91bnQiOjIsImlkIjoiMDA5YTFmMjkzMjUzZTQxZSIsInNlY3JldCI6IjQwNzkxNWJjMjEyYmU2MWE3N2UzZTZkMmFlYjRjNzI3OTgwYmRhNTFjZDA2YTZhZmMyOWUyODYxNzY4YTc4MzciLCJDIjoiMDJiYzkwOTc5OTdkODFhZmIyY2M3MzQ2YjVlNDM0NWE5MzQ2YmQyYTUwNmViNzk1ODU5OGE3MmYwY2Y4NTE2M2VhIn0seyJhbW91bnQiOjgsImlkIjoiMDA5YTFmMjkzMjUzZTQxZSIsInNlY3JldCI6ImZlMTUxMDkzMTRlNjFkNzc1NmIwZjhlZTBmMjNhNjI0YWNhYTNmNGUwNDJmNjE0MzNjNzI4YzcwNTdiOTMxYmUiLCJDIjoiMDI5ZThlNTA1MGI4OTBhN2Q2YzA5NjhkYjE2YmMxZDVkNWZhMDQwZWExZGUyODRmNmVjNjlkNjEyOTlmNjcxMDU5In1dfV0sInVuaXQiOiJzYXQiLCJtZW1vIjoiVGhhbmsgeW91LiJ9"

func testProofs() Proofs {
	return Proofs{
		{
			Amount: 2,
			Id:     "009a1f293253e41e",
			Secret: "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837",
			C:      "02bc9097997d81afb2cc7346b5e4345a9346bd2a506eb7958598a72f0cf85163ea",
		},
		{
			Amount: 8,
			Id:     "009a1f293253e41e",
			Secret: "fe15109314e61d7756b0f8ee0f23a624acaa3f4e042f61433c728c7057b931be",
			C:      "029e8e5050b890a7d6c0968db16bc1d5d5fa040ea1de284f6ec69d61299f671059",
		},
	}
}

func TestDecodeTokenV3(t *testing.T) {
	token, err := DecodeTokenV3(tokenV3Str)
	if err != nil {
		t.Fatalf("DecodeTokenV3: %v", err)
	}

	if token.Mint() != "https://8333.space:3338" {
		t.Errorf("wrong mint url: %v", token.Mint())
	}
	if token.Unit != "sat" {
		t.Errorf("wrong unit: %v", token.Unit)
	}
	if token.Memo != "Thank you." {
		t.Errorf("wrong memo: %v", token.Memo)
	}
	if token.Amount() != 10 {
		t.Errorf("wrong amount: %v", token.Amount())
	}
	if !reflect.DeepEqual(token.Proofs(), testProofs()) {
		t.Errorf("decoded proofs do not match")
	}
}

func TestTokenV3RoundTrip(t *testing.T) {
	token, err := DecodeTokenV3(tokenV3Str)
	if err != nil {
		t.Fatal(err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	// byte-equal modulo optional base64 padding
	if strings.TrimRight(serialized, "=") != strings.TrimRight(tokenV3Str, "=") {
		t.Errorf("re-serialized token does not match original.\ngot:  %v\nwant: %v", serialized, tokenV3Str)
	}
}

func TestTokenV3URIPrefix(t *testing.T) {
	token, err := DecodeToken(URIPrefix + tokenV3Str)
	if err != nil {
		t.Fatalf("decoding token with URI prefix: %v", err)
	}
	if token.Amount() != 10 {
		t.Errorf("wrong amount: %v", token.Amount())
	}
}

func TestTokenV4RoundTrip(t *testing.T) {
	token, err := NewTokenV4(testProofs(), "https://8333.space:3338", Sat, "Thank you.", false)
	if err != nil {
		t.Fatal(err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(serialized, "cashuB") {
		t.Errorf("V4 token missing prefix: %v", serialized[:8])
	}
	if strings.ContainsAny(serialized, "+/") {
		t.Error("V4 token contains non URL-safe base64 characters")
	}

	decoded, err := DecodeTokenV4(serialized)
	if err != nil {
		t.Fatalf("DecodeTokenV4: %v", err)
	}

	if decoded.Mint() != token.Mint() {
		t.Errorf("wrong mint: %v", decoded.Mint())
	}
	if decoded.Unit != "sat" {
		t.Errorf("wrong unit: %v", decoded.Unit)
	}
	if decoded.Memo != "Thank you." {
		t.Errorf("wrong memo: %v", decoded.Memo)
	}
	if !reflect.DeepEqual(decoded.Proofs(), token.Proofs()) {
		t.Error("decoded proofs do not match")
	}

	// second pass serializes to the same bytes
	reserialized, err := decoded.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if reserialized != serialized {
		t.Error("V4 round trip is not stable")
	}
}

func TestTokenAmountMatchesProofSum(t *testing.T) {
	token, err := NewTokenV4(testProofs(), "https://8333.space:3338", Sat, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if token.Amount() != token.Proofs().Amount() {
		t.Error("token amount does not equal sum of proof amounts")
	}
}

func TestDecodeInvalidTokens(t *testing.T) {
	tests := []struct {
		name     string
		tokenstr string
	}{
		{"empty", ""},
		{"bad prefix", "cashuXeyJ0b2tlbiI6W119"},
		{"v3 garbage base64", "cashuA!!!not-base64!!!"},
		{"v3 standard alphabet", "cashuAeyJ0b2tl+iI6W119"},
		{"v4 not cbor", "cashuBeyJ0b2tlbiI6W119"},
	}

	for _, test := range tests {
		if _, err := DecodeToken(test.tokenstr); err == nil {
			t.Errorf("%s: expected error decoding token", test.name)
		}
	}
}

func TestNewTokenEmptyProofs(t *testing.T) {
	if _, err := NewTokenV3(Proofs{}, "https://8333.space:3338", Sat, "", false); err == nil {
		t.Error("expected error building V3 token with no proofs")
	}
	if _, err := NewTokenV4(Proofs{}, "https://8333.space:3338", Sat, "", false); err == nil {
		t.Error("expected error building V4 token with no proofs")
	}
}
