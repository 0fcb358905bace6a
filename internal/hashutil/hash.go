// Package hashutil provides SHA-512 file hashing and OS route-table
// lookups used to locate a caller's source IP.
package hashutil

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"os"
)

const chunkSize = 1 << 20 // 1 MiB, matching the reference implementation's read size.

// SHA512 streams path through SHA-512 in chunkSize reads and returns the
// lowercase hex digest.
func SHA512(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha512.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return "", werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
