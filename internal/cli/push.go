package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loadsctl/loadsctl/pkg/install"
)

var (
	pushUser        string
	pushVia         string
	pushViaUser     string
	pushInstaller   string
	pushInstallArgs string
	pushInsecureSSH bool
)

var pushCmd = &cobra.Command{
	Use:   "push <install-target> <host> <pkg>",
	Short: "Stream a package straight into a remote installer over SSH",
	Args:  cobra.ExactArgs(3),
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().StringVar(&pushUser, "user", "root", "SSH user on the destination host")
	pushCmd.Flags().StringVar(&pushVia, "via", "", "jump host to tunnel through")
	pushCmd.Flags().StringVar(&pushViaUser, "via-user", "root", "SSH user on the jump host")
	pushCmd.Flags().StringVar(&pushInstallArgs, "installer-args", "", "extra args appended to the installer invocation (stream mode only)")
	pushCmd.Flags().BoolVar(&pushInsecureSSH, "insecure-ssh", false, "skip host-key verification (testing only)")
}

func runPush(cmd *cobra.Command, args []string) error {
	targetName, host, pkgPath := args[0], args[1], args[2]

	tgt, err := install.Default.ByName(targetName)
	if err != nil {
		return err
	}

	f, err := os.Open(pkgPath)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	script, err := tgt.RemoteScript(pushInstallArgs)
	if err != nil {
		return err
	}

	opts := install.DialOptions{
		User:                  pushUser,
		Host:                  host,
		InsecureIgnoreHostKey: pushInsecureSSH,
	}
	if pushVia != "" {
		opts.Via = &install.DialOptions{
			User:                  pushViaUser,
			Host:                  pushVia,
			InsecureIgnoreHostKey: pushInsecureSSH,
		}
	}

	transport := &install.Transport{Logger: logger}
	ctx := context.Background()
	client, err := transport.Dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	result, err := transport.StreamInto(ctx, client, script, f)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	logger.Info("push complete", zap.String("host", host), zap.String("target", targetName))
	if len(result.Stdout) > 0 {
		fmt.Print(string(result.Stdout))
	}
	return nil
}
