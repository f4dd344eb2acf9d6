package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// backupCodeCharset avoids ambiguous glyphs (0/O, 1/I/L).
const backupCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewOTP returns a numeric one-time code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// NewBackupCode returns a human-transcribable recovery code.
func NewBackupCode(length int) (string, error) {
	if length < 8 || length > 32 {
		return "", errors.New("invalid backup code length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(backupCodeCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeCharset[n.Int64()])
	}

	return b.String(), nil
}

// HashCode hashes a submitted one-time or backup code for storage and
// constant-size comparison.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(strings.TrimSpace(code)))
}

// HashFingerprint collapses an opaque device fingerprint into a fixed-width
// hex digest suitable for Redis key material.
func HashFingerprint(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:16])
}
