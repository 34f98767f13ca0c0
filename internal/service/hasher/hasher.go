// Package hasher computes content digests of cache artifacts.
package hasher

import (
	"bytes"
	"crypto"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Register the hash implementations referenced by Algorithm.
	_ "crypto/sha1" //nolint:gosec // Only used when a manifest explicitly declares sha1.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Algorithm identifies a digest function as written in the manifest.
type Algorithm string

// Supported algorithms.
const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"

	// Default is used when a manifest does not name an algorithm.
	Default = SHA256
)

var (
	// ErrUnknownAlgorithm is returned for algorithm identifiers outside the supported set.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
	// ErrInvalidHash is returned for declared hashes that are neither hex nor base64.
	ErrInvalidHash = errors.New("invalid hash encoding")
	// errHashUnavailable is returned when the hash implementation is not linked in.
	errHashUnavailable = errors.New("hash function unavailable")
)

// ParseAlgorithm normalizes an identifier such as "SHA-256" or "sha256".
// An empty identifier yields Default.
func ParseAlgorithm(s string) (Algorithm, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "")
	switch Algorithm(normalized) {
	case "":
		return Default, nil
	case SHA1, SHA256, SHA512:
		return Algorithm(normalized), nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownAlgorithm)
	}
}

// Hash returns the crypto.Hash backing the algorithm.
func (a Algorithm) Hash() (crypto.Hash, error) {
	var h crypto.Hash

	switch a {
	case SHA1:
		h = crypto.SHA1
	case SHA256, "":
		h = crypto.SHA256
	case SHA512:
		h = crypto.SHA512
	default:
		return 0, fmt.Errorf("%q: %w", string(a), ErrUnknownAlgorithm)
	}

	if !h.Available() {
		return 0, fmt.Errorf("%s: %w", a, errHashUnavailable)
	}

	return h, nil
}

// Reader returns the lowercase hex digest of everything read from r.
func Reader(r io.Reader, alg Algorithm) (string, error) {
	h, err := alg.Hash()
	if err != nil {
		return "", err
	}

	digest := h.New()
	if _, err = io.Copy(digest, r); err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// Bytes returns the lowercase hex digest of b.
func Bytes(b []byte, alg Algorithm) (string, error) {
	return Reader(bytes.NewReader(b), alg)
}

// File returns the lowercase hex digest of the file at path.
func File(path string, alg Algorithm) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = f.Close()
	}()

	return Reader(f, alg)
}

// Decode converts a declared hash to raw bytes. Hex (any case) is tried first,
// then standard and raw base64.
func Decode(declared string) ([]byte, error) {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return nil, fmt.Errorf("empty hash: %w", ErrInvalidHash)
	}

	if raw, err := hex.DecodeString(declared); err == nil {
		return raw, nil
	}

	if raw, err := base64.StdEncoding.DecodeString(declared); err == nil {
		return raw, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(declared)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", declared, ErrInvalidHash)
	}

	return raw, nil
}

// Equal reports whether a declared hash (hex or base64) matches a hex digest.
func Equal(declared, actualHex string) bool {
	want, err := Decode(declared)
	if err != nil {
		return false
	}

	got, err := hex.DecodeString(actualHex)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(want, got) == 1
}
