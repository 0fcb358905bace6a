package deliver

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentRequests bounds how many requests fileHandler processes
// at once, the Go substitute for the reference server's fork-per-request
// model: the accept loop stays unbounded (net/http spawns a goroutine
// per connection regardless), but actual handler execution is gated
// through an errgroup so a burst of connections can't run unboundedly
// many ServeFile calls at once.
const maxConcurrentRequests = 8

// boundedHandler wraps inner so that no more than limit requests run
// inner.ServeHTTP concurrently; excess requests block until a slot
// frees up rather than being rejected.
type boundedHandler struct {
	inner http.Handler
	pool  *errgroup.Group
}

func newBoundedHandler(inner http.Handler, limit int) *boundedHandler {
	pool := &errgroup.Group{}
	pool.SetLimit(limit)
	return &boundedHandler{inner: inner, pool: pool}
}

func (h *boundedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{})
	h.pool.Go(func() error {
		defer close(done)
		h.inner.ServeHTTP(w, r)
		return nil
	})
	<-done
}

// defaultContentType is used for any extension the standard mime
// package does not recognize, matching loadsdir.py's
// extensions_map = {'': 'application/octet-stream'}.
const defaultContentType = "application/octet-stream"

const serverToken = "loadsdir.go/1"

// fileHandler serves files rooted at root regardless of the process's
// working directory, rejects path traversal, and fires onComplete
// exactly once per request after the response is written.
type fileHandler struct {
	root       string
	logger     *zap.Logger
	onComplete func()
}

func (h *fileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	log := h.logger.With(zap.String("request_id", reqID), zap.String("path", r.URL.Path))
	log.Info("<< requested")
	defer func() {
		log.Info(">> responded")
		h.onComplete()
	}()

	w.Header().Set("Server", serverToken)

	cleanPath := filepath.Clean("/" + r.URL.Path)
	fsPath := filepath.Join(h.root, cleanPath)
	if !strings.HasPrefix(fsPath, filepath.Clean(h.root)+string(filepath.Separator)) && fsPath != filepath.Clean(h.root) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ext := filepath.Ext(fsPath)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)

	http.ServeFile(w, r, fsPath)
}
