package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loadsctl/loadsctl/pkg/pkginfo"
	"github.com/loadsctl/loadsctl/pkg/signing"
	"github.com/loadsctl/loadsctl/pkg/target"
	"github.com/loadsctl/loadsctl/pkg/validate"
)

var (
	validateSkip []string
	validatePub  string
)

var validateCmd = &cobra.Command{
	Use:   "validate <bundle-dir>",
	Short: "Stream invariant-check failures for an assembled bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringArrayVar(&validateSkip, "skip", nil, "check name to disable (repeatable)")
	validateCmd.Flags().StringVar(&validatePub, "pubkey", "", "PEM public key file for loads_signed (default: derived from signing.cert_path)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDie()
	bundleRoot := args[0]

	checks := validate.DefaultChecks()
	for _, name := range validateSkip {
		disableCheck(&checks, name)
	}

	resolver := pkginfo.NewResolver(pkginfo.NewExtractor(cfg.Tools.PkgExtract), logger)
	signer := signing.NewSigner(cfg.Tools.SwimsClient, logger)

	var pubkey []byte
	if validatePub != "" {
		b, err := os.ReadFile(validatePub)
		if err != nil {
			return fmt.Errorf("read pubkey: %w", err)
		}
		pubkey = b
	} else if cfg.Signing.CertPath != "" {
		source, err := keySourceFromConfig(cfg)
		if err == nil {
			if b, err := signer.PublicKeyOf(context.Background(), source); err == nil {
				pubkey = b
			}
		}
	}

	v := &validate.Validator{
		Registry:  target.Default,
		Resolver:  resolver,
		Signer:    signer,
		PublicKey: pubkey,
	}

	failures := 0
	for verr := range v.Validate(context.Background(), bundleRoot, checks) {
		failures++
		fmt.Println(verr.String())
	}
	if failures > 0 {
		os.Exit(1)
	}
	return nil
}

func disableCheck(c *validate.Checks, name string) {
	switch name {
	case "loads_has_codec":
		c.LoadsHasCodec = false
	case "loads_filename":
		c.LoadsFilename = false
	case "loads_signed":
		c.LoadsSigned = false
	case "product_exists":
		c.ProductExists = false
	case "pkg_relative":
		c.PkgRelative = false
	case "pkg_inside":
		c.PkgInside = false
	case "pkg_exists":
		c.PkgExists = false
	case "pkg_external_symlinks":
		c.PkgExternalSymlinks = false
	case "pkg_version":
		c.PkgVersion = false
	case "pkg_targets":
		c.PkgTargets = false
	case "pkg_checksum":
		c.PkgChecksum = false
	case "pkg_filename":
		c.PkgFilename = false
	case "pkg_attached":
		c.PkgAttached = false
	}
}
