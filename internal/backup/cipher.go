package backup

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher encrypts backup plaintext into an opaque string and back.
// deviceID identifies the exporting device; ciphers may bind keys to it.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte, deviceID string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

const (
	passphrasePrefix = "crmorbit-v1."
	saltSize         = 16
)

// KDFParams are the argon2id cost parameters.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDF follows the argon2id recommendation of RFC 9106 for
// memory-constrained devices.
var DefaultKDF = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

// PassphraseCipher derives a key from a passphrase with argon2id and seals
// with XChaCha20-Poly1305. Output is "crmorbit-v1." followed by base64 of
// salt, nonce and sealed box. The KDF parameters are not stored, so
// decryption must use the same ones.
type PassphraseCipher struct {
	passphrase []byte
	kdf        KDFParams
}

// NewPassphraseCipher returns a cipher for passphrase with DefaultKDF.
func NewPassphraseCipher(passphrase string) *PassphraseCipher {
	return &PassphraseCipher{passphrase: []byte(passphrase), kdf: DefaultKDF}
}

// WithKDF returns a copy using p.
func (c *PassphraseCipher) WithKDF(p KDFParams) *PassphraseCipher {
	return &PassphraseCipher{passphrase: c.passphrase, kdf: p}
}

func (c *PassphraseCipher) key(salt []byte) []byte {
	return argon2.IDKey(c.passphrase, salt, c.kdf.Time, c.kdf.Memory, c.kdf.Threads, chacha20poly1305.KeySize)
}

// Encrypt seals plaintext under a fresh salt and nonce.
func (c *PassphraseCipher) Encrypt(ctx context.Context, plaintext []byte, _ string) (string, error) {
	if len(c.passphrase) == 0 {
		return "", errors.New("encrypt: empty passphrase")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	buf := make([]byte, saltSize+chacha20poly1305.NonceSizeX, saltSize+chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	salt, nonce := buf[:saltSize], buf[saltSize:]

	aead, err := chacha20poly1305.NewX(c.key(salt))
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	sealed := aead.Seal(buf, nonce, plaintext, []byte(passphrasePrefix))
	return passphrasePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure is
// ErrDecryptionFailed.
func (c *PassphraseCipher) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, ok := strings.CutPrefix(strings.TrimSpace(ciphertext), passphrasePrefix)
	if !ok {
		return nil, decryptionFailed("decrypt", errors.New("unrecognized format"))
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, decryptionFailed("decrypt", err)
	}
	if len(raw) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, decryptionFailed("decrypt", errors.New("ciphertext too short"))
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := raw[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(c.key(salt))
	if err != nil {
		return nil, decryptionFailed("decrypt", err)
	}
	plain, err := aead.Open(nil, nonce, sealed, []byte(passphrasePrefix))
	if err != nil {
		return nil, decryptionFailed("decrypt", err)
	}
	return plain, nil
}
