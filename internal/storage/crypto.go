package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidKey is returned when an encryption key is not 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")

	// ErrDecryption is returned when decryption fails due to wrong key or corrupted data.
	ErrDecryption = errors.New("decryption failed: wrong key or corrupted data")

	// ErrWrongPassphrase is returned by New when the passphrase differs from
	// the one the database was created with.
	ErrWrongPassphrase = errors.New("encryption key does not match this database")
)

// Argon2id parameters for deriving the storage key from ENCRYPTION_KEY.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	keyLen     = 32
	saltLen    = 16
)

// DeriveKey turns a passphrase and salt into a 32-byte AES-256 key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, keyLen)
}

// NewSalt returns a random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns hex-encoded nonce+ciphertext concatenated.
func Encrypt(plaintext []byte, key []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, ErrInvalidKey
	}

	// Safe because key size is already validated
	block, _ := aes.NewCipher(key) //nolint:errcheck
	gcm, _ := cipher.NewGCM(block) //nolint:errcheck

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(hex.EncodeToString(sealed)), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encrypted []byte, key []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, ErrInvalidKey
	}

	ciphertext := make([]byte, hex.DecodedLen(len(encrypted)))
	n, err := hex.Decode(ciphertext, encrypted)
	if err != nil {
		return nil, ErrDecryption
	}
	ciphertext = ciphertext[:n]

	block, _ := aes.NewCipher(key) //nolint:errcheck
	gcm, _ := cipher.NewGCM(block) //nolint:errcheck

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryption
	}

	plaintext, err := gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
