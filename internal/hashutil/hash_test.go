package hashutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSHA512KnownVector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	digest, err := SHA512(path)
	require.NoError(t, err)
	require.Equal(t,
		"309ecc489c12d6eb4cc40f50c902f2b4d0ed77ee511a7c7a9bcd3ca86d4cd86f989dd35bc5ff499670da34255b45b0cfd830e81f605dcf7dc5542e93ae9cd76f",
		digest,
	)
}

func TestSHA512StreamsAcrossChunkBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	data := make([]byte, chunkSize+17)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	digest, err := SHA512(path)
	require.NoError(t, err)
	require.Len(t, digest, 128)
}

func TestSHA512MissingFile(t *testing.T) {
	_, err := SHA512(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
