package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loadsctl/loadsctl/pkg/signing"
)

var ticketNotes string

var ticketCmd = &cobra.Command{
	Use:   "ticket <release> <out-path>",
	Short: "Mint a remote-signing ticket, consumable as signing.key_source=remote",
	Args:  cobra.ExactArgs(2),
	RunE:  runTicket,
}

func init() {
	rootCmd.AddCommand(ticketCmd)
	ticketCmd.Flags().StringVar(&ticketNotes, "notes", "", "freeform notes attached to the ticket request")
}

func runTicket(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDie()
	release, out := args[0], args[1]

	signer := signing.NewSigner(cfg.Tools.SwimsClient, logger)
	err := signer.CreateTicket(context.Background(), signing.TicketRequest{
		Release: release,
		Notes:   ticketNotes,
	}, out)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	fmt.Println(out)
	return nil
}
