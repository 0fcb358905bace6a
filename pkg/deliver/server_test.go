package deliver

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, firstReq, idle time.Duration) (*Engine, string) {
	t.Helper()
	workspace := t.TempDir()
	// the engine owns and removes workspace on exit, so it must not be
	// the same directory t.TempDir() cleans up.
	owned := filepath.Join(t.TempDir(), "workspace")
	require.NoError(t, os.Rename(workspace, owned))
	require.NoError(t, os.WriteFile(filepath.Join(owned, "bundle.loads"), []byte("[]"), 0o644))

	return NewEngine(owned, Options{FirstRequestTimeout: firstReq, IdleTimeout: idle}), owned
}

func waitForState(t *testing.T, e *Engine, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, e.State())
}

// TestNoRequestWithinFirstTimeoutAborts exercises the scenario where no
// client ever connects: the engine must tear down its own workspace and
// terminate in AbortedNoClient without ever reaching Serving.
func TestNoRequestWithinFirstTimeoutAborts(t *testing.T) {
	engine, workspace := newTestEngine(t, 50*time.Millisecond, time.Second)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- engine.Serve(context.Background()) }()

	waitForState(t, engine, StateListening, time.Second)

	result := <-resultCh
	require.Equal(t, StateAbortedNoClient, result.State)
	require.NoError(t, result.Err)

	_, err := os.Stat(workspace)
	require.True(t, os.IsNotExist(err))
}

// TestRequestThenIdleTimeoutCompletes exercises the scenario where a
// client fetches a file and then goes quiet: the engine must reach
// Serving, then Completed once the idle timeout elapses with no further
// requests.
func TestRequestThenIdleTimeoutCompletes(t *testing.T) {
	engine, workspace := newTestEngine(t, time.Second, 80*time.Millisecond)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- engine.Serve(context.Background()) }()

	waitForState(t, engine, StateListening, time.Second)

	resp, err := http.Get("http://" + engine.Addr() + "/bundle.loads")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "[]", string(body))

	result := <-resultCh
	require.Equal(t, StateCompleted, result.State)
	require.NoError(t, result.Err)

	_, err = os.Stat(workspace)
	require.True(t, os.IsNotExist(err))
}

func TestRequestsWithinIdleWindowPostponeCompletion(t *testing.T) {
	engine, _ := newTestEngine(t, time.Second, 100*time.Millisecond)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- engine.Serve(context.Background()) }()

	waitForState(t, engine, StateListening, time.Second)

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := http.Get("http://" + engine.Addr() + "/bundle.loads")
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		time.Sleep(60 * time.Millisecond)
	}

	result := <-resultCh
	require.Equal(t, StateCompleted, result.State)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestContextCancelAbortsServe(t *testing.T) {
	engine, _ := newTestEngine(t, time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan Result, 1)
	go func() { resultCh <- engine.Serve(ctx) }()

	waitForState(t, engine, StateListening, time.Second)
	cancel()

	result := <-resultCh
	require.Equal(t, StateAborted, result.State)
	require.Error(t, result.Err)
}

func TestFileHandlerRejectsPathTraversal(t *testing.T) {
	engine, _ := newTestEngine(t, time.Second, 200*time.Millisecond)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- engine.Serve(context.Background()) }()

	waitForState(t, engine, StateListening, time.Second)

	resp, err := http.Get("http://" + engine.Addr() + "/../../etc/passwd")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	<-resultCh
}

func TestWatchReceivesLifecycleEventsAndCloses(t *testing.T) {
	engine, _ := newTestEngine(t, 30*time.Millisecond, time.Second)

	events := engine.Watch()
	resultCh := make(chan Result, 1)
	go func() { resultCh <- engine.Serve(context.Background()) }()

	var seen []State
	for evt := range events {
		seen = append(seen, evt.State)
	}

	<-resultCh
	require.Contains(t, seen, StateListening)
	require.Contains(t, seen, StateAbortedNoClient)
}
