package signing

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/loadsctl/loadsctl/internal/atomicfile"
	"github.com/loadsctl/loadsctl/internal/hashutil"
)

// Sentinel errors, matching the taxonomy in SPEC_FULL.md §7.
var (
	ErrKeyNotFound     = errors.New("signing: key, certificate, or ticket not found")
	ErrExternalFailure = errors.New("signing: external signing service failed")
)

// Signer produces and checks detached RSA-SHA512 signatures over a file,
// either with a local PEM key or via an external signing service
// ("swims_client" in the reference deployment).
type Signer struct {
	// SwimsClientPath is the external signing-service client binary,
	// used only for RemoteTicket key sources.
	SwimsClientPath string
	Logger          *zap.Logger
}

// NewSigner builds a Signer. If logger is nil a no-op logger is used.
func NewSigner(swimsClientPath string, logger *zap.Logger) *Signer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if swimsClientPath == "" {
		swimsClientPath = "swims_client"
	}
	return &Signer{SwimsClientPath: swimsClientPath, Logger: logger}
}

// Sign produces a detached signature over path's contents using source,
// returning the raw signature bytes.
func (s *Signer) Sign(ctx context.Context, path string, source KeySource) ([]byte, error) {
	digest, err := sha512Digest(path)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", path, err)
	}

	switch src := source.(type) {
	case LocalKey:
		return s.signLocal(ctx, path, digest, src)
	case RemoteTicket:
		return s.signRemote(ctx, digest, src)
	default:
		return nil, fmt.Errorf("sign %s: unknown key source %T", path, source)
	}
}

// SignToFile signs path and atomically writes the raw signature bytes to sigPath.
func (s *Signer) SignToFile(ctx context.Context, path string, source KeySource, sigPath string) error {
	sig, err := s.Sign(ctx, path, source)
	if err != nil {
		return err
	}
	return atomicfile.Write(sigPath, sig, 0o644)
}

// PublicKeyOf returns the PEM-encoded public key belonging to source.
func (s *Signer) PublicKeyOf(ctx context.Context, source KeySource) ([]byte, error) {
	switch src := source.(type) {
	case LocalKey:
		return publicKeyFromCert(src.CertPath)
	case RemoteTicket:
		return s.fetchRemotePublicKey(ctx, src)
	default:
		return nil, fmt.Errorf("public key: unknown key source %T", source)
	}
}

// Verify reports whether sig is a valid RSA-SHA512 signature over path's
// contents under pubkeyPEM. A negative result is not an error: callers
// get back a plain bool, matching the Verification error kind in
// SPEC_FULL.md §7 ("returned as a false result, not an error").
func (s *Signer) Verify(path string, sig []byte, pubkeyPEM []byte) bool {
	digest, err := sha512Digest(path)
	if err != nil {
		s.Logger.Warn("verify: failed to hash file", zap.String("path", path), zap.Error(err))
		return false
	}
	pub, err := parsePublicKeyPEM(pubkeyPEM)
	if err != nil {
		s.Logger.Warn("verify: failed to parse public key", zap.Error(err))
		return false
	}
	digestBytes, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	return rsa.VerifyPKCS1v15(pub, crypto.SHA512, digestBytes, sig) == nil
}

func sha512Digest(path string) (string, error) {
	return hashutil.SHA512(path)
}

// signLocal prefers the native crypto/rsa path; when the key file is
// not a directly loadable PEM-encoded RSA private key (a PKCS#11 URI or
// engine reference, which openssl resolves through its own engine
// support but the stdlib cannot), it shells out to the same `openssl
// dgst -sha512 -sign` invocation the reference tooling uses.
func (s *Signer) signLocal(ctx context.Context, path, digestHex string, src LocalKey) ([]byte, error) {
	keyBytes, err := os.ReadFile(src.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading private key %s: %v", ErrKeyNotFound, src.KeyPath, err)
	}
	priv, err := parsePrivateKeyPEM(keyBytes)
	if err != nil {
		return s.signLocalViaOpenSSL(ctx, path, src.KeyPath)
	}
	digestBytes, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, err
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA512, digestBytes)
	if err != nil {
		return nil, fmt.Errorf("sign with local key: %w", err)
	}
	return sig, nil
}

// signLocalViaOpenSSL signs path's contents by shelling out to openssl,
// which hashes and signs in one invocation rather than taking a
// precomputed digest.
func (s *Signer) signLocalViaOpenSSL(ctx context.Context, path, keyPath string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "openssl", "dgst", "-sha512", "-sign", keyPath, path).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: openssl dgst -sha512 -sign: %v", ErrExternalFailure, err)
	}
	return out, nil
}

type swimsSignResponse struct {
	Signature string `json:"signature"`
}

func (s *Signer) signRemote(ctx context.Context, digestHex string, src RemoteTicket) ([]byte, error) {
	if _, err := os.Stat(src.TicketPath); err != nil {
		return nil, fmt.Errorf("%w: ticket %s: %v", ErrKeyNotFound, src.TicketPath, err)
	}

	out, err := exec.CommandContext(ctx, s.SwimsClientPath, "abraxas", "signHash",
		"-hash="+digestHex, "-ticket="+src.TicketPath).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s abraxas signHash: %v", ErrExternalFailure, s.SwimsClientPath, err)
	}

	var resp swimsSignResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: parsing signHash response: %v", ErrExternalFailure, err)
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding signature: %v", ErrExternalFailure, err)
	}
	return sig, nil
}

type swimsPubkeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func (s *Signer) fetchRemotePublicKey(ctx context.Context, src RemoteTicket) ([]byte, error) {
	out, err := exec.CommandContext(ctx, s.SwimsClientPath, "abraxas", "fetchPublicKey",
		"-ticket="+src.TicketPath).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s abraxas fetchPublicKey: %v", ErrExternalFailure, s.SwimsClientPath, err)
	}
	var resp swimsPubkeyResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: parsing fetchPublicKey response: %v", ErrExternalFailure, err)
	}
	return []byte("-----BEGIN PUBLIC KEY-----\n" + resp.PublicKey + "\n-----END PUBLIC KEY-----\n"), nil
}

func publicKeyFromCert(certPath string) ([]byte, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading certificate %s: %v", ErrKeyNotFound, certPath, err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: %s is not PEM-encoded", ErrKeyNotFound, certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing certificate %s: %v", ErrKeyNotFound, certPath, err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), nil
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("not PEM-encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#1/PKCS#8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", key)
	}
	return rsaKey, nil
}

func parsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("not PEM-encoded")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return rsaKey, nil
}
