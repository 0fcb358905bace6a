// Package deliver implements C8: an ephemeral-workspace, short-lived
// HTTP origin with an idle-timeout lifecycle, used to hand a bundle to a
// device that has been triggered (over a remote shell) to pull it.
package deliver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is one point in C8's lifecycle state machine.
type State string

const (
	StateInit            State = "init"
	StateListening       State = "listening"
	StateServing         State = "serving"
	StateAbortedNoClient State = "aborted_no_client" // terminal
	StateCompleted       State = "completed"         // terminal
	StateAborted         State = "aborted"           // terminal
)

func (s State) Terminal() bool {
	return s == StateAbortedNoClient || s == StateCompleted || s == StateAborted
}

// Event is one state transition or request-lifecycle notification,
// published to any watchers attached via Engine.Watch (see watch.go).
type Event struct {
	State State
	Msg   string
	Time  time.Time
}

// Options configures an Engine. Zero values fall back to the spec
// defaults (5s / 30s).
type Options struct {
	FirstRequestTimeout time.Duration
	IdleTimeout         time.Duration
	Logger              *zap.Logger
}

// Engine serves files out of Workspace on an ephemeral port, observing
// the first-request and idle timeouts, and tears Workspace down on
// every exit path.
type Engine struct {
	Workspace string
	ID        string

	firstRequestTimeout time.Duration
	idleTimeout         time.Duration
	logger              *zap.Logger

	mu          sync.Mutex
	state       State
	listener    net.Listener
	port        int
	server      *http.Server
	completedCh chan struct{}

	watchersMu sync.Mutex
	watchers   []chan Event
}

// NewEngine builds an Engine rooted at workspace, which must already
// exist and contain the assembled bundle. The Engine owns workspace and
// removes it on every terminal transition.
func NewEngine(workspace string, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	firstReq := opts.FirstRequestTimeout
	if firstReq <= 0 {
		firstReq = 5 * time.Second
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	return &Engine{
		Workspace:           workspace,
		ID:                  uuid.NewString(),
		firstRequestTimeout: firstReq,
		idleTimeout:         idle,
		logger:              logger,
		state:               StateInit,
		completedCh:         make(chan struct{}, 1),
	}
}

// Result is the outcome of a Serve call.
type Result struct {
	State State
	Port  int
	Err   error
}

// Addr returns host:port once Serve has reached Listening or later;
// empty before that.
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// Port returns the bound port once listening has begun, 0 before that.
func (e *Engine) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Serve runs the full Init -> Listening -> (AbortedNoClient | Serving ->
// Completed) | Aborted lifecycle and blocks until a terminal state is
// reached, tearing down the workspace before returning.
func (e *Engine) Serve(ctx context.Context) Result {
	defer e.cleanupWorkspace()

	listener, err := net.Listen("tcp", "[::]:0")
	if err != nil {
		return e.finish(StateAborted, fmt.Errorf("listen: %w", err))
	}

	e.mu.Lock()
	e.listener = listener
	e.port = listener.Addr().(*net.TCPAddr).Port
	e.state = StateListening
	e.mu.Unlock()
	e.publish(Event{State: StateListening, Time: now(), Msg: fmt.Sprintf("listening on %s", listener.Addr())})
	e.logger.Info("listening", zap.String("workspace", e.Workspace), zap.String("addr", listener.Addr().String()))

	handler := &fileHandler{
		root:   e.Workspace,
		logger: e.logger,
		onComplete: func() {
			select {
			case e.completedCh <- struct{}{}:
			default:
			}
		},
	}
	e.server = &http.Server{Handler: newBoundedHandler(handler, maxConcurrentRequests)}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- e.server.Serve(listener)
	}()

	select {
	case <-e.completedCh:
		// first request observed
	case <-time.After(e.firstRequestTimeout):
		e.shutdownServer()
		return e.finish(StateAbortedNoClient, nil)
	case <-ctx.Done():
		e.shutdownServer()
		return e.finish(StateAborted, ctx.Err())
	case err := <-serveErrCh:
		return e.finish(StateAborted, fmt.Errorf("http server exited early: %w", err))
	}

	e.mu.Lock()
	e.state = StateServing
	e.mu.Unlock()
	e.publish(Event{State: StateServing, Time: now()})
	e.logger.Info("serving", zap.String("workspace", e.Workspace))

	for {
		select {
		case <-e.completedCh:
			// idle timer resets below
		case <-time.After(e.idleTimeout):
			e.shutdownServer()
			return e.finish(StateCompleted, nil)
		case <-ctx.Done():
			e.shutdownServer()
			return e.finish(StateAborted, ctx.Err())
		case err := <-serveErrCh:
			return e.finish(StateAborted, fmt.Errorf("http server exited early: %w", err))
		}
	}
}

func (e *Engine) shutdownServer() {
	if e.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.server.Shutdown(ctx)
}

func (e *Engine) finish(state State, err error) Result {
	e.mu.Lock()
	e.state = state
	port := e.port
	e.mu.Unlock()
	e.publish(Event{State: state, Time: now(), Msg: errMsg(err)})
	e.logger.Info("terminal state reached", zap.String("state", string(state)), zap.Error(err))
	return Result{State: state, Port: port, Err: err}
}

func (e *Engine) cleanupWorkspace() {
	if e.Workspace == "" {
		return
	}
	if err := os.RemoveAll(e.Workspace); err != nil {
		e.logger.Warn("failed to remove workspace", zap.String("workspace", e.Workspace), zap.Error(err))
	}
	e.watchersMu.Lock()
	for _, ch := range e.watchers {
		close(ch)
	}
	e.watchers = nil
	e.watchersMu.Unlock()
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// now returns the wall-clock time used to stamp published Events.
func now() time.Time { return time.Now() }
