// Package signing implements C2: detached RSA-SHA512 signatures over a
// bundle manifest, produced either by a local PEM key or by a remote
// signing service, modeled as the tagged variant recommended by the
// spec's design notes rather than a class hierarchy.
package signing

// KeySource selects where a signing/verification key comes from. There
// are exactly two implementations: LocalKey and RemoteTicket.
type KeySource interface {
	isKeySource()
}

// LocalKey signs with a PEM-encoded RSA private key kept on disk. The
// corresponding public key is recovered from a paired X.509 certificate,
// not stored separately.
type LocalKey struct {
	KeyPath  string
	CertPath string
}

func (LocalKey) isKeySource() {}

// RemoteTicket signs by asking a remote signing service to sign a
// SHA-512 digest on the caller's behalf. TicketPath is an opaque token file
// that authorizes the request; ServiceURL identifies the service.
type RemoteTicket struct {
	TicketPath string
	ServiceURL string
}

func (RemoteTicket) isKeySource() {}
