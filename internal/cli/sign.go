package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loadsctl/loadsctl/pkg/signing"
)

var signOutPath string

var signCmd = &cobra.Command{
	Use:   "sign <path>",
	Short: "Produce a detached signature for a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSign,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <path> <sig-path>",
	Short: "Verify a detached signature against a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(signCmd, verifyCmd)
	signCmd.Flags().StringVar(&signOutPath, "out", "", "write the signature here (default: <path>.sgn)")
}

func runSign(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDie()
	path := args[0]
	out := signOutPath
	if out == "" {
		out = path + ".sgn"
	}

	source, err := keySourceFromConfig(cfg)
	if err != nil {
		return err
	}

	signer := signing.NewSigner(cfg.Tools.SwimsClient, logger)
	if err := signer.SignToFile(context.Background(), path, source, out); err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	fmt.Println(out)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDie()
	path, sigPath := args[0], args[1]

	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}

	source, err := keySourceFromConfig(cfg)
	if err != nil {
		return err
	}
	signer := signing.NewSigner(cfg.Tools.SwimsClient, logger)
	pubkey, err := signer.PublicKeyOf(context.Background(), source)
	if err != nil {
		return fmt.Errorf("fetch public key: %w", err)
	}

	if signer.Verify(path, sig, pubkey) {
		fmt.Println("OK")
		return nil
	}
	fmt.Println("FAILED")
	os.Exit(1)
	return nil
}
