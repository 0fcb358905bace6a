package signing

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/loadsctl/loadsctl/internal/atomicfile"
)

// TicketRequest describes a release for which a signing ticket is minted
// by the remote signing service, restoring the CLI workflow from
// original_source/loadssign.py's create_swims_ticket that the distilled
// spec dropped (it treats ticket issuance as out-of-scope, but does not
// forbid restoring it here).
type TicketRequest struct {
	Release string // release identifier the ticket authorizes signing for
	Notes   string // free-form justification recorded by the signing service
}

// CreateTicket asks the signing service to mint a ticket authorizing
// future RemoteTicket signing for req, and writes the raw ticket bytes
// to ticketPath atomically.
func (s *Signer) CreateTicket(ctx context.Context, req TicketRequest, ticketPath string) error {
	args := []string{"abraxas", "createTicket", "-release=" + req.Release}
	if req.Notes != "" {
		args = append(args, "-notes="+req.Notes)
	}
	out, err := exec.CommandContext(ctx, s.SwimsClientPath, args...).Output()
	if err != nil {
		return fmt.Errorf("%w: %s abraxas createTicket: %v", ErrExternalFailure, s.SwimsClientPath, err)
	}
	if err := atomicfile.Write(ticketPath, out, 0o600); err != nil {
		return fmt.Errorf("write ticket %s: %w", ticketPath, err)
	}
	return nil
}
