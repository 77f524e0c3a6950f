package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// VaultKeySize is the AES-256 key length in bytes.
	VaultKeySize   = 32
	vaultNonceSize = 12
	vaultTagSize   = 16

	pbkdf2Iterations = 600000
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication tag mismatch")
)

// Vault provides the symmetric encryption and one-way hashing primitives
// used for secrets at rest (TOTP secrets, backup codes). Ciphertexts are
// serialized as hex(nonce):hex(tag):hex(ciphertext).
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a Vault from a hex-encoded 32-byte master key. Key
// validation happens here so that misconfiguration fails at process start,
// not on first use.
func NewVault(keyHex string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != VaultKeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", VaultKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewVaultFromPassphrase derives the master key from an operator passphrase
// with PBKDF2-SHA-256, for deployments that do not manage raw hex keys.
func NewVaultFromPassphrase(passphrase string, salt []byte) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("empty vault passphrase")
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, VaultKeySize, sha256.New)
	return NewVault(hex.EncodeToString(key))
}

// Encrypt seals plaintext with a fresh random nonce per call.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, vaultNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// GCM appends the tag to the ciphertext; split it out so the stored
	// envelope keeps the nonce:tag:ciphertext layout.
	tagStart := len(sealed) - vaultTagSize
	ct, tag := sealed[:tagStart], sealed[tagStart:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens an envelope produced by Encrypt. A malformed envelope or a
// failed tag check returns an error and never partial plaintext.
func (v *Vault) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrInvalidCiphertext
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != vaultNonceSize {
		return "", ErrInvalidCiphertext
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != vaultTagSize {
		return "", ErrInvalidCiphertext
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := v.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Hash returns a deterministic SHA-256 hex digest for values that need
// equality checks but never recovery.
func (v *Vault) Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// VerifyHash compares text against a digest in constant time.
func (v *Vault) VerifyHash(text, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(v.Hash(text)), []byte(digest)) == 1
}

// GenerateVaultKey returns a fresh hex-encoded master key for operator
// bootstrapping. Not used at runtime.
func GenerateVaultKey() (string, error) {
	key := make([]byte, VaultKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
