package install

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"go.uber.org/zap"
)

// DialOptions parameterizes an SSH connection to an install target,
// including binst.py's --via jump-host double-hop.
type DialOptions struct {
	User    string
	Host    string
	Port    int // default 22
	Zone    string // IPv6 zone ID, appended as host%zone when Host is link-local
	Auth    []ssh.AuthMethod
	Timeout time.Duration // default 10s

	// HostKeyCallback verifies the remote host key, e.g. built from a
	// known_hosts file via golang.org/x/crypto/ssh/knownhosts. Required
	// unless InsecureIgnoreHostKey is set.
	HostKeyCallback ssh.HostKeyCallback

	// InsecureIgnoreHostKey opts into skipping host-key verification.
	// This mirrors binst.py's build_ssh_cmd "-o StrictHostKeyChecking=no"
	// default, made an explicit, named, logged choice here rather than
	// an implicit one.
	InsecureIgnoreHostKey bool

	// Via, if non-nil, is dialed first and the target connection is
	// tunnelled through it, the library equivalent of binst.py's
	// nested build_ssh_cmd composition for --via.
	Via *DialOptions
}

func (o DialOptions) address() string {
	host := o.Host
	if ip := net.ParseIP(host); o.Zone != "" && ip != nil && ip.To4() == nil && ip.IsLinkLocalUnicast() {
		host = host + "%" + o.Zone
	}
	port := o.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

func (o DialOptions) clientConfig() (*ssh.ClientConfig, error) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callback := o.HostKeyCallback
	if o.InsecureIgnoreHostKey {
		callback = ssh.InsecureIgnoreHostKey()
	}
	if callback == nil {
		return nil, fmt.Errorf("dial %s: no HostKeyCallback and InsecureIgnoreHostKey not set", o.Host)
	}
	return &ssh.ClientConfig{
		User:            o.User,
		Auth:            o.Auth,
		Timeout:         timeout,
		HostKeyCallback: callback,
	}, nil
}

// Transport dials and runs remote commands for C9's delivery path,
// using golang.org/x/crypto/ssh as the default transport in place of
// shelling out to a local ssh binary.
type Transport struct {
	Logger *zap.Logger
}

// Dial connects to opts.Host, transparently tunnelling through
// opts.Via first when set.
func (t *Transport) Dial(ctx context.Context, opts DialOptions) (*ssh.Client, error) {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InsecureIgnoreHostKey {
		logger.Warn("host key verification disabled for ssh dial", zap.String("host", opts.Host))
	}

	if opts.Via == nil {
		return t.dialDirect(ctx, opts)
	}

	cfg, err := opts.clientConfig()
	if err != nil {
		return nil, err
	}

	jump, err := t.Dial(ctx, *opts.Via)
	if err != nil {
		return nil, fmt.Errorf("dial jump host %s: %w", opts.Via.Host, err)
	}
	conn, err := jump.Dial("tcp", opts.address())
	if err != nil {
		jump.Close()
		return nil, fmt.Errorf("dial %s via jump host: %w", opts.Host, err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, opts.address(), cfg)
	if err != nil {
		conn.Close()
		jump.Close()
		return nil, fmt.Errorf("handshake with %s via jump host: %w", opts.Host, err)
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

func (t *Transport) dialDirect(ctx context.Context, opts DialOptions) (*ssh.Client, error) {
	cfg, err := opts.clientConfig()
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.address(), err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, opts.address(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", opts.address(), err)
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

// RunResult carries a remote command's captured output.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run executes cmd as a single remote command on client, matching
// binst.py's subprocess-per-invocation model (one channel, one
// command, no interactive shell).
func (t *Transport) Run(ctx context.Context, client *ssh.Client, cmd string) (RunResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return RunResult{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err := <-done:
		result := RunResult{Stdout: []byte(stdout.String()), Stderr: []byte(stderr.String())}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, fmt.Errorf("remote command exited %d: %s", result.ExitCode, stderr.String())
		}
		if err != nil {
			return result, fmt.Errorf("run remote command: %w", err)
		}
		return result, nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return RunResult{}, ctx.Err()
	}
}

// StreamInto copies from src into the remote command's stdin, for
// stream-into-installer mode.
func (t *Transport) StreamInto(ctx context.Context, client *ssh.Client, cmd string, src io.Reader) (RunResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return RunResult{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("open stdin pipe: %w", err)
	}
	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(cmd); err != nil {
		return RunResult{}, fmt.Errorf("start remote command: %w", err)
	}

	copyErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, src)
		copyErr <- err
		stdin.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		result := RunResult{Stdout: []byte(stdout.String()), Stderr: []byte(stderr.String())}
		if cErr := <-copyErr; cErr != nil {
			return result, fmt.Errorf("stream to remote stdin: %w", cErr)
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, fmt.Errorf("remote command exited %d: %s", result.ExitCode, stderr.String())
		}
		if err != nil {
			return result, fmt.Errorf("run remote command: %w", err)
		}
		return result, nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return RunResult{}, ctx.Err()
	}
}

