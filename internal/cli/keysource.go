package cli

import (
	"fmt"

	"github.com/loadsctl/loadsctl/internal/config"
	"github.com/loadsctl/loadsctl/pkg/signing"
)

func keySourceFromConfig(cfg *config.Config) (signing.KeySource, error) {
	switch cfg.Signing.KeySource {
	case "local":
		if cfg.Signing.KeyPath == "" || cfg.Signing.CertPath == "" {
			return nil, fmt.Errorf("signing.key_path and signing.cert_path are required for key_source=local")
		}
		return signing.LocalKey{KeyPath: cfg.Signing.KeyPath, CertPath: cfg.Signing.CertPath}, nil
	case "remote":
		if cfg.Signing.KeyPath == "" {
			return nil, fmt.Errorf("signing.key_path (ticket file) is required for key_source=remote")
		}
		return signing.RemoteTicket{TicketPath: cfg.Signing.KeyPath, ServiceURL: cfg.Signing.TicketServiceURL}, nil
	default:
		return nil, fmt.Errorf("unknown signing.key_source %q", cfg.Signing.KeySource)
	}
}
