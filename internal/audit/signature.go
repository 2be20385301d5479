package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const signaturePrefix = "hmac-sha256:"

// MinKeyBytes is the shortest signing key accepted.
const MinKeyBytes = 32

// Signer signs and verifies audit records with HMAC-SHA256.
type Signer struct {
	key []byte
}

// NewSigner accepts a raw key of at least MinKeyBytes, or a hex string that
// decodes to at least MinKeyBytes.
func NewSigner(key string) (*Signer, error) {
	b, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	return &Signer{key: b}, nil
}

func decodeKey(key string) ([]byte, error) {
	if len(key) >= 2*MinKeyBytes && len(key)%2 == 0 {
		if decoded, err := hex.DecodeString(key); err == nil {
			return decoded, nil
		}
	}
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakKey, MinKeyBytes, len(key))
	}
	return []byte(key), nil
}

// Sign returns "hmac-sha256:<hex>" for data.
func (s *Signer) Sign(data []byte) string {
	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches data.
func (s *Signer) Verify(data []byte, signature string) bool {
	return hmac.Equal([]byte(s.Sign(data)), []byte(signature))
}

// Hash returns "sha256:<hex>" of s. Prompts and answers are only ever kept
// in this form.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:])
}
