package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loadsctl/loadsctl/internal/hashutil"
	"github.com/loadsctl/loadsctl/pkg/deliver"
	"github.com/loadsctl/loadsctl/pkg/install"
)

var (
	serveTriggerHost string
	serveTriggerUser string
	serveWatch       bool
	serveWatchAddr   string
	serveInsecureSSH bool
)

var serveCmd = &cobra.Command{
	Use:   "serve <bundle-dir>",
	Short: "Serve a bundle over a short-lived HTTP origin, optionally triggering a device to pull it",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveTriggerHost, "trigger-host", "", "device address to SSH into and trigger a pull (omit to just print the URL)")
	serveCmd.Flags().StringVar(&serveTriggerUser, "trigger-user", "root", "SSH user for --trigger-host")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also serve a websocket progress stream on /__watch")
	serveCmd.Flags().StringVar(&serveWatchAddr, "watch-addr", "127.0.0.1:0", "address for the --watch websocket listener")
	serveCmd.Flags().BoolVar(&serveInsecureSSH, "insecure-ssh", false, "skip host-key verification for --trigger-host (testing only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDie()
	bundleDir := args[0]

	engine := deliver.NewEngine(bundleDir, deliver.Options{
		FirstRequestTimeout: cfg.Delivery.FirstRequestTimeout,
		IdleTimeout:         cfg.Delivery.IdleTimeout,
		Logger:              logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if serveWatch {
		startWatchListener(engine)
	}

	resultCh := make(chan deliver.Result, 1)
	go func() { resultCh <- engine.Serve(ctx) }()

	// Give the listener a moment to bind before we announce the port; the
	// engine publishes a Listening event the instant it does.
	events := engine.Watch()
	for evt := range events {
		if evt.State == deliver.StateListening {
			announceAndTrigger(ctx, engine, bundleDir)
			break
		}
		if evt.State.Terminal() {
			break
		}
	}

	result := <-resultCh
	logger.Info("serve finished", zap.String("state", string(result.State)), zap.Error(result.Err))
	if result.Err != nil {
		return result.Err
	}
	return nil
}

func startWatchListener(engine *deliver.Engine) {
	mux := http.NewServeMux()
	mux.HandleFunc("/__watch", engine.WatchHandler(logger))
	ln, err := net.Listen("tcp", serveWatchAddr)
	if err != nil {
		logger.Warn("failed to start --watch listener", zap.Error(err))
		return
	}
	logger.Info("watch listener started", zap.String("addr", ln.Addr().String()))
	go func() {
		_ = http.Serve(ln, mux)
	}()
}

// announceAndTrigger prints the human banner, attempts the SSH-side
// trigger one-liner if a trigger host was given, and logs (not aborts)
// on trigger failure so the idle-timeout window still gives an
// operator the chance to pull the bundle by hand. There is no fallback
// to stream delivery when no client connects.
func announceAndTrigger(ctx context.Context, engine *deliver.Engine, bundleDir string) {
	ip, err := hashutil.GuessLocalIP(ctx, "8.8.8.8")
	if err != nil {
		ip = "0.0.0.0"
	}
	banner := install.HumanBanner(ip, engine.Port())
	fmt.Println(banner)

	if serveTriggerHost == "" {
		return
	}

	transport := &install.Transport{Logger: logger}
	dialOpts := install.DialOptions{
		User:                  serveTriggerUser,
		Host:                  serveTriggerHost,
		InsecureIgnoreHostKey: serveInsecureSSH,
	}
	client, err := transport.Dial(ctx, dialOpts)
	if err != nil {
		logger.Warn("trigger ssh dial failed, relying on manual pull", zap.Error(err))
		return
	}
	defer client.Close()

	loadsName := ""
	if matches, err := filepath.Glob(filepath.Join(bundleDir, "*.loads")); err == nil && len(matches) > 0 {
		loadsName = filepath.Base(matches[0])
	}
	script := install.TriggerScript(engine.Port(), loadsName)
	if _, err := transport.Run(ctx, client, script); err != nil {
		logger.Warn("trigger command failed, still serving for manual pull", zap.Error(err))
		return
	}
	logger.Info("triggered remote pull", zap.String("host", serveTriggerHost))
}
