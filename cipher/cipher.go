// Package cipher unwraps the optional RSA-OAEP transport encryption applied
// by agents to each unit of traffic.
//
// Each encrypted unit is the base64 text of one RSA-OAEP (SHA-1) ciphertext.
// When encryption is disabled the Identity cipher passes bytes through.
package cipher

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // OAEP padding hash used by deployed agents
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned when a plaintext exceeds the OAEP bound.
var ErrPayloadTooLarge = errors.New("plaintext exceeds RSA-OAEP bound")

// Cipher decrypts one received unit.
type Cipher interface {
	Unwrap(blob []byte) ([]byte, error)
}

// DecryptionError reports a unit that could not be decoded or decrypted.
type DecryptionError struct {
	Msg string
	Err error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Msg, e.Err)
	}
	return "decryption failed: " + e.Msg
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// SizeError reports a plaintext that exceeds MaxPlaintextSize.
type SizeError struct {
	Size int
	Max  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("plaintext of %d bytes exceeds maximum %d", e.Size, e.Max)
}

func (e *SizeError) Unwrap() error {
	return ErrPayloadTooLarge
}

// Identity is the pass-through cipher used when encryption is disabled.
type Identity struct{}

// Unwrap returns blob unchanged.
func (Identity) Unwrap(blob []byte) ([]byte, error) {
	return blob, nil
}

// OAEP decrypts base64 RSA-OAEP units with a private key.
type OAEP struct {
	priv *rsa.PrivateKey
}

// NewOAEP creates an OAEP cipher for priv.
func NewOAEP(priv *rsa.PrivateKey) *OAEP {
	return &OAEP{priv: priv}
}

// BlockSize returns the base64 length of one encrypted unit.
func (c *OAEP) BlockSize() int {
	return base64.StdEncoding.EncodedLen(c.priv.Size())
}

// Unwrap base64-decodes blob and decrypts it.
// Surrounding whitespace is ignored.
func (c *OAEP) Unwrap(blob []byte) ([]byte, error) {
	text := bytes.TrimSpace(blob)
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(raw, text)
	if err != nil {
		return nil, &DecryptionError{Msg: "invalid base64", Err: err}
	}
	plain, err := rsa.DecryptOAEP(sha1.New(), nil, c.priv, raw[:n], nil) //nolint:gosec // see import
	if err != nil {
		return nil, &DecryptionError{Msg: "rsa-oaep", Err: err}
	}
	return plain, nil
}

// Encryptor produces units that OAEP.Unwrap accepts.
type Encryptor struct {
	pub *rsa.PublicKey
}

// NewEncryptor creates an Encryptor for pub.
func NewEncryptor(pub *rsa.PublicKey) *Encryptor {
	return &Encryptor{pub: pub}
}

// MaxPlaintextSize returns k - 2*hLen - 2 for the key modulus size k.
func (e *Encryptor) MaxPlaintextSize() int {
	return MaxPlaintextSize(e.pub)
}

// MaxPlaintextSize returns the largest plaintext a single OAEP unit can carry for pub.
func MaxPlaintextSize(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha1.Size - 2
}

// Wrap encrypts plaintext and returns its base64 text.
// Plaintexts above MaxPlaintextSize fail with ErrPayloadTooLarge; nothing is truncated.
func (e *Encryptor) Wrap(plaintext []byte) ([]byte, error) {
	if limit := e.MaxPlaintextSize(); len(plaintext) > limit {
		return nil, &SizeError{Size: len(plaintext), Max: limit}
	}
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, e.pub, plaintext, nil) //nolint:gosec // see import
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep encrypt: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(ct)))
	base64.StdEncoding.Encode(out, ct)
	return out, nil
}
