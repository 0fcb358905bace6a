package deliver

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader accepts same-origin-agnostic local tooling connections; the
// loadsctl CLI binds this endpoint to loopback unless --watch-addr says
// otherwise.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Watch registers a channel that receives the Events the engine
// publishes until the engine reaches a terminal state, at which point
// the channel is closed. An event is dropped for a watcher whose
// 16-slot buffer is full. This is additive instrumentation: it never
// affects C8's serve semantics, only observability of it.
func (e *Engine) Watch() <-chan Event {
	ch := make(chan Event, 16)
	e.watchersMu.Lock()
	e.watchers = append(e.watchers, ch)
	e.watchersMu.Unlock()
	return ch
}

func (e *Engine) publish(evt Event) {
	e.watchersMu.Lock()
	defer e.watchersMu.Unlock()
	for _, ch := range e.watchers {
		select {
		case ch <- evt:
		default:
			// a slow watcher must not block delivery; drop the event for it.
		}
	}
}

// WatchHandler serves a websocket endpoint that streams the engine's
// Watch() events as JSON-encoded text frames, for `loadsctl serve --watch`.
func (e *Engine) WatchHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		for evt := range e.Watch() {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
