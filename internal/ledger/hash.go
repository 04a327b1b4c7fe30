package ledger

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile returns the hex md5 of the file's content. md5 is plenty here:
// the hash guards against re-uploading unchanged settings files, not against
// an adversary, and it keeps fingerprints at 128 bits.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
