package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFingerprint is returned for fingerprints that cannot name a cache directory
var ErrInvalidFingerprint = errors.New("invalid fingerprint")

const fingerprintLen = 12

// Fingerprint derives a cache key from the identifying parts of a run.
// It is the first 12 hex characters of SHA-256 over the NUL-joined parts.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// ValidateFingerprint checks that fp is safe to use as a directory name
func ValidateFingerprint(fp string) error {
	if fp == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidFingerprint)
	}
	if strings.Contains(fp, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidFingerprint)
	}
	if strings.ContainsAny(fp, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidFingerprint)
	}
	if strings.Contains(fp, "\x00") {
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidFingerprint)
	}
	return nil
}
