// Package cryptox implements authenticated encryption of session metadata
// fields. Values are sealed with AES-256-GCM and serialized as
// "nonce:tag:ciphertext" with each part hex-encoded.
package cryptox

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/logging"
	"golang.org/x/crypto/argon2"
)

const (
	keyLen    = 32
	nonceLen  = 12
	tagLen    = 16
	partCount = 3
)

// kdfSalt is fixed: every process must derive the same key from the same
// configured passphrase.
var kdfSalt = []byte("dropwire-metadata-v1")

// DeriveKey stretches a configured passphrase into a 32-byte AES key.
func DeriveKey(passphrase []byte) []byte {
	return argon2.IDKey(passphrase, kdfSalt, 1, 64*1024, 4, keyLen)
}

// ResolveKey turns the configured METADATA_ENCRYPTION_KEY value into a
// 32-byte key. A 64-character hex string is decoded as raw key material;
// anything else is passed through the KDF.
func ResolveKey(configured string) ([]byte, error) {
	if configured == "" {
		return nil, fmt.Errorf("empty encryption key: %w", common.ErrInvalidInput)
	}
	if len(configured) == 2*keyLen {
		if raw, err := hex.DecodeString(configured); err == nil {
			return raw, nil
		}
	}
	return DeriveKey([]byte(configured)), nil
}

// FieldCipher encrypts and decrypts individual metadata fields.
// The key is read-only after construction; methods are safe for
// concurrent use.
type FieldCipher struct {
	aead   cipher.AEAD
	logger logging.Logger
}

func NewFieldCipher(key []byte, logger logging.Logger) (*FieldCipher, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("key must be %d bytes, got %d: %w", keyLen, len(key), common.ErrInvalidInput)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{aead: aead, logger: logger.With("module", "fieldcipher")}, nil
}

// Encrypt seals plaintext and returns the nonce:tag:ciphertext envelope.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := common.GenerateRandByteArray(nonceLen)

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	body := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(body),
	}, ":"), nil
}

// Decrypt opens an envelope produced by Encrypt. Values that do not look
// like an envelope (anything without exactly two ':' separators) are
// returned unchanged: legacy rows written before encryption was enabled
// stay readable. A malformed or unauthenticated envelope is likewise
// returned unchanged, with a warning logged.
func (c *FieldCipher) Decrypt(value string) string {
	parts := strings.Split(value, ":")
	if len(parts) != partCount {
		return value
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLen {
		c.logger.Warn(context.Background(), "malformed envelope nonce, passing value through")
		return value
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		c.logger.Warn(context.Background(), "malformed envelope tag, passing value through")
		return value
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		c.logger.Warn(context.Background(), "malformed envelope body, passing value through")
		return value
	}

	plaintext, err := c.aead.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		c.logger.Warn(context.Background(), "field decryption failed, passing value through")
		return value
	}
	return string(plaintext)
}
