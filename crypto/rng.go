package crypto

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	rngMu     sync.RWMutex
	rngReader io.Reader = rand.Reader
)

// RandomReader returns the source random secrets, nonces and blinding
// factors are drawn from. Defaults to the OS CSPRNG.
func RandomReader() io.Reader {
	rngMu.RLock()
	defer rngMu.RUnlock()
	return rngReader
}

// SetRandomReaderForTest swaps the RNG for deterministic testing.
// The returned function restores the previous reader.
func SetRandomReaderForTest(r io.Reader) func() {
	rngMu.Lock()
	prev := rngReader
	rngReader = r
	rngMu.Unlock()

	return func() {
		rngMu.Lock()
		rngReader = prev
		rngMu.Unlock()
	}
}

// RandomBytes reads n bytes from the installed RNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(RandomReader(), b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateBlindingFactor draws a fresh non-zero scalar from the
// installed RNG.
func GenerateBlindingFactor() (*secp256k1.PrivateKey, error) {
	for {
		b, err := RandomBytes(32)
		if err != nil {
			return nil, err
		}
		var scalar secp256k1.ModNScalar
		overflow := scalar.SetByteSlice(b)
		if overflow || scalar.IsZero() {
			continue
		}
		return secp256k1.NewPrivateKey(&scalar), nil
	}
}
