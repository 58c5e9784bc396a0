package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
)

const (
	// NonceSize is the GCM standard nonce length (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag length (128 bits).
	TagSize = 16
)

// Sealed is one encryption result. The three fields are base64 (standard
// encoding) and are only valid together: they come from a single Encrypt
// call and must be stored and loaded as a unit.
type Sealed struct {
	Ciphertext string
	Nonce      string
	AuthTag    string
}

// Engine encrypts and decrypts single text payloads with AES-256-GCM.
// No associated data is used.
type Engine struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewEngine resolves the key from src and prepares the AEAD.
// The resolved key is wiped once the cipher is initialized.
func NewEngine(src KeySource) (*Engine, error) {
	key, err := src.ResolveKey()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorConfiguration, err)
	}

	aead, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorConfiguration, err)
	}

	return &Engine{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
//
// A new nonce is drawn on every call, including re-encryption of unchanged
// content, so equal plaintexts never produce equal ciphertexts.
// Empty or non-UTF-8 input fails with common.ErrorInvalidInput.
func (e *Engine) Encrypt(plaintext string) (Sealed, error) {
	if plaintext == "" {
		return Sealed{}, fmt.Errorf("%w: plaintext is empty", common.ErrorInvalidInput)
	}
	if !utf8.ValidString(plaintext) {
		return Sealed{}, fmt.Errorf("%w: plaintext is not valid UTF-8 text", common.ErrorInvalidInput)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return Sealed{}, fmt.Errorf("nonce generation failed: %w", err)
	}

	// Seal appends the tag to the ciphertext.
	out := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(out) - TagSize

	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(out[:split]),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(out[split:]),
	}, nil
}

// Decrypt opens a sealed triple.
//
// Malformed input (bad base64, wrong nonce or tag length, empty ciphertext)
// fails with common.ErrorFormat. Every verification failure returns the same
// common.ErrorAuthentication regardless of cause.
func (e *Engine) Decrypt(s Sealed) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil || len(ciphertext) == 0 {
		return "", fmt.Errorf("%w: ciphertext", common.ErrorFormat)
	}

	nonce, err := base64.StdEncoding.DecodeString(s.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return "", fmt.Errorf("%w: nonce", common.ErrorFormat)
	}

	tag, err := base64.StdEncoding.DecodeString(s.AuthTag)
	if err != nil || len(tag) != TagSize {
		return "", fmt.Errorf("%w: auth tag", common.ErrorFormat)
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", common.ErrorAuthentication
	}

	if !utf8.Valid(plaintext) {
		common.WipeByteArray(plaintext)
		return "", fmt.Errorf("%w: plaintext is not text", common.ErrorFormat)
	}

	out := string(plaintext)
	common.WipeByteArray(plaintext)
	return out, nil
}
