package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// HashReader digests everything r yields. Step logs can be large, so files
// are streamed rather than loaded.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the digest of a saved step log.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashString digests captured output that was never written to disk.
func HashString(data string) string {
	sum, _ := HashReader(strings.NewReader(data))
	return sum
}

// HashLines folds the per-step log hashes of a job into the single digest
// recorded in its ledger block. Order matters.
func HashLines(hashes []string) string {
	return HashString(strings.Join(hashes, "\n"))
}
