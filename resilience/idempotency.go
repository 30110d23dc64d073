package resilience

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// IdempotencyKeyHeader is set on mutating requests so retries of the
// same logical operation are deduplicated server side.
const IdempotencyKeyHeader = "Idempotency-Key"

// KeyProvider supplies idempotency keys, stable across retries of the
// same logical operation.
type KeyProvider interface {
	// Key returns the key for the logical operation id, creating one
	// on first use.
	Key(operation string) string
	// Release forgets the key once the operation completed.
	Release(operation string)
}

// UUIDKeyProvider issues uuid-v4 keys and remembers them per
// operation id.
type UUIDKeyProvider struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewUUIDKeyProvider() *UUIDKeyProvider {
	return &UUIDKeyProvider{keys: make(map[string]string)}
}

func (p *UUIDKeyProvider) Key(operation string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if key, ok := p.keys[operation]; ok {
		return key
	}
	key := uuid.NewString()
	p.keys[operation] = key
	return key
}

func (p *UUIDKeyProvider) Release(operation string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, operation)
}

// EnsureIdempotencyKey populates the header if it is not already set
// and returns the key in effect. An already-set header is preserved.
func EnsureIdempotencyKey(header http.Header, provider KeyProvider, operation string) string {
	if existing := header.Get(IdempotencyKeyHeader); existing != "" {
		return existing
	}
	key := provider.Key(operation)
	header.Set(IdempotencyKeyHeader, key)
	return key
}
