package signing

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// generateKeyAndCert writes a PEM-encoded RSA private key and a
// self-signed certificate wrapping its public key, returning their paths.
func generateKeyAndCert(t *testing.T, dir string) (keyPath, certPath string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPath = filepath.Join(dir, "key.pem")
	keyBytes := x509.MarshalPKCS1PrivateKey(priv)
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyBytes}), 0o600))

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "loadsctl-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o644))
	return keyPath, certPath
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath := generateKeyAndCert(t, dir)

	dataPath := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(dataPath, []byte("upgrade payload"), 0o644))

	signer := NewSigner("", nil)
	source := LocalKey{KeyPath: keyPath, CertPath: certPath}

	sig, err := signer.Sign(context.Background(), dataPath, source)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	pubkey, err := signer.PublicKeyOf(context.Background(), source)
	require.NoError(t, err)

	require.True(t, signer.Verify(dataPath, sig, pubkey))
}

func TestVerifyDetectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath := generateKeyAndCert(t, dir)

	dataPath := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(dataPath, []byte("upgrade payload"), 0o644))

	signer := NewSigner("", nil)
	source := LocalKey{KeyPath: keyPath, CertPath: certPath}

	sig, err := signer.Sign(context.Background(), dataPath, source)
	require.NoError(t, err)
	pubkey, err := signer.PublicKeyOf(context.Background(), source)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dataPath, []byte("tampered payload"), 0o644))
	require.False(t, signer.Verify(dataPath, sig, pubkey))
}

func TestSignMissingKeyIsKeyNotFound(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(dataPath, []byte("x"), 0o644))

	signer := NewSigner("", nil)
	_, err := signer.Sign(context.Background(), dataPath, LocalKey{KeyPath: filepath.Join(dir, "missing.pem"), CertPath: filepath.Join(dir, "missing-cert.pem")})
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSignToFileWritesSignature(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath := generateKeyAndCert(t, dir)
	dataPath := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(dataPath, []byte("upgrade payload"), 0o644))

	signer := NewSigner("", nil)
	sigPath := filepath.Join(dir, "data.bin.sgn")
	require.NoError(t, signer.SignToFile(context.Background(), dataPath, LocalKey{KeyPath: keyPath, CertPath: certPath}, sigPath))

	info, err := os.Stat(sigPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
