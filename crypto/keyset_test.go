package crypto

import (
	"testing"
)

func TestDeriveKeysetIdFromMap(t *testing.T) {
	keys := map[string]string{
		"1": "03a40f20667ed53513075dc51e715ff2046cad64eb68960632269ba7f0210e38bc",
		"2": "03fd4ce5a16b65576145949e6f99f445f8249fee17c606b688b504a849cdc452de",
		"4": "02648eccfa4c026960966276fa5a4cae46ce0fd432211a4f449bf84f13aa5f8303",
		"8": "02fdfd6796bfeac490cbee12f778f867f0a2c68f6508d17c649759ea0dc3547528",
	}

	id, err := DeriveKeysetIdFromMap(keys)
	if err != nil {
		t.Fatal(err)
	}
	expected := "00456a94ab4e1c46"
	if id != expected {
		t.Errorf("expected id '%v' but got '%v'", expected, id)
	}
}

// the sort must be numerical, not lexical, and must handle amounts
// above 2^63
func TestDeriveKeysetIdNumericalSort(t *testing.T) {
	tests := []struct {
		keys     map[string]string
		expected string
	}{
		{
			keys: map[string]string{
				"2":  "03a40f20667ed53513075dc51e715ff2046cad64eb68960632269ba7f0210e38bc",
				"10": "03fd4ce5a16b65576145949e6f99f445f8249fee17c606b688b504a849cdc452de",
			},
			expected: "008bcf65dddb7bcb",
		},
		{
			keys: map[string]string{
				"1":                    "03a40f20667ed53513075dc51e715ff2046cad64eb68960632269ba7f0210e38bc",
				"18446744073709551616": "03fd4ce5a16b65576145949e6f99f445f8249fee17c606b688b504a849cdc452de",
			},
			expected: "008bcf65dddb7bcb",
		},
	}

	for _, test := range tests {
		id, err := DeriveKeysetIdFromMap(test.keys)
		if err != nil {
			t.Fatal(err)
		}
		if id != test.expected {
			t.Errorf("expected id '%v' but got '%v'", test.expected, id)
		}
	}
}

func TestDeriveKeysetIdOrderIndependent(t *testing.T) {
	pubkeys := []string{
		"03a40f20667ed53513075dc51e715ff2046cad64eb68960632269ba7f0210e38bc",
		"03fd4ce5a16b65576145949e6f99f445f8249fee17c606b688b504a849cdc452de",
		"02648eccfa4c026960966276fa5a4cae46ce0fd432211a4f449bf84f13aa5f8303",
		"02fdfd6796bfeac490cbee12f778f867f0a2c68f6508d17c649759ea0dc3547528",
	}

	first := map[string]string{
		"1": pubkeys[0], "2": pubkeys[1], "4": pubkeys[2], "8": pubkeys[3],
	}
	second := map[string]string{
		"8": pubkeys[3], "4": pubkeys[2], "2": pubkeys[1], "1": pubkeys[0],
	}

	id1, err := DeriveKeysetIdFromMap(first)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := DeriveKeysetIdFromMap(second)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("keyset id depends on map order: '%v' != '%v'", id1, id2)
	}
}

func TestValidateKeysetId(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"00456a94ab4e1c46", true},
		{"009a1f293253e41e", true},
		{"456a94ab4e1c46", false},
		{"00456a94ab4e1c4", false},
		{"zz456a94ab4e1c46", false},
		{"01456a94ab4e1c46", false},
		{"", false},
	}

	for _, test := range tests {
		err := ValidateKeysetId(test.id)
		if test.valid && err != nil {
			t.Errorf("id '%v' should be valid: %v", test.id, err)
		}
		if !test.valid && err == nil {
			t.Errorf("id '%v' should be invalid", test.id)
		}
	}
}
