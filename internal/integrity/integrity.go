// Package integrity computes and compares content digests of artifact files.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/orthovision/orthovision/internal/errors"
)

// ChunkSize is the read buffer used while hashing. Memory use is bounded by
// it regardless of file size.
const ChunkSize = 1 << 20

// Digest returns the lowercase hex SHA-256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.New(err).
			Component("integrity").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	sum, err := DigestReader(f)
	if err != nil {
		return "", errors.New(err).
			Component("integrity").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return sum, nil
}

// DigestReader hashes r to EOF in ChunkSize reads.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes hashes an in-memory payload.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Compare reports whether two hex digests are equal, ignoring case and
// surrounding whitespace. Empty digests never match.
func Compare(expected, actual string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	actual = strings.ToLower(strings.TrimSpace(actual))
	if expected == "" || actual == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

// Verify digests path and compares it with expected.
func Verify(path, expected string) (bool, string, error) {
	actual, err := Digest(path)
	if err != nil {
		return false, "", err
	}
	return Compare(expected, actual), actual, nil
}
