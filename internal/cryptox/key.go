package cryptox

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
)

// KeySize is the length of the record key in bytes (AES-256).
const KeySize = 32

// KeySource yields the symmetric key used for record encryption.
type KeySource interface {
	ResolveKey() ([]byte, error)
}

// KeyProvider resolves the record key from a configured base64 value.
// The value is decoded once; later calls return a copy of the memoized key
// (or the memoized error).
type KeyProvider struct {
	encoded string

	once sync.Once
	key  []byte
	err  error
}

// NewKeyProvider returns a provider for the given configured value.
// Validation is deferred to the first ResolveKey call.
func NewKeyProvider(encoded string) *KeyProvider {
	return &KeyProvider{encoded: encoded}
}

// ResolveKey decodes and validates the configured key.
//
// It fails with common.ErrorConfiguration when the value is absent, is not
// standard base64, or does not decode to exactly KeySize bytes. The
// returned slice is a copy; callers may wipe it.
func (p *KeyProvider) ResolveKey() ([]byte, error) {
	p.once.Do(func() {
		p.key, p.err = decodeKey(p.encoded)
		p.encoded = ""
	})
	if p.err != nil {
		return nil, p.err
	}

	out := make([]byte, len(p.key))
	copy(out, p.key)
	return out, nil
}

func decodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: record key is not set", common.ErrorConfiguration)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: record key is not valid base64", common.ErrorConfiguration)
	}

	if len(raw) != KeySize {
		common.WipeByteArray(raw)
		return nil, fmt.Errorf("%w: record key must decode to %d bytes, got %d", common.ErrorConfiguration, KeySize, len(raw))
	}

	return raw, nil
}

// StaticKey is a KeySource over a fixed key, used by tests and tools.
type StaticKey []byte

func (k StaticKey) ResolveKey() ([]byte, error) {
	if len(k) != KeySize {
		return nil, fmt.Errorf("%w: static key must be %d bytes", common.ErrorConfiguration, KeySize)
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, nil
}

// GenerateKey returns a fresh random key encoded the way KeyProvider expects.
func GenerateKey() string {
	key := common.GenerateRandByteArray(KeySize)
	defer common.WipeByteArray(key)
	return base64.StdEncoding.EncodeToString(key)
}
