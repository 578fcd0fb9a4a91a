package broadcast

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InitialPlaceholder is written to every SSE stream before anything else.
const InitialPlaceholder = "Waiting for Initial Data..."

// sseClient is a downstream Server-Sent Events subscriber. The request
// goroutine is its only writer.
type sseClient struct {
	*queue
	id string
}

func (c *sseClient) ID() string            { return c.id }
func (c *sseClient) Transport() Transport  { return TransportSSE }
func (c *sseClient) Push(msg []byte) error { return c.push(msg) }
func (c *sseClient) Close()                { c.close() }

// ServeSSE streams published messages as "data:" events until the client
// disconnects or is dropped. initial, when non-empty, follows the placeholder.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, initial []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "%s\n\n", InitialPlaceholder); err != nil {
		return
	}
	if len(initial) > 0 {
		if err := writeEvent(w, initial); err != nil {
			return
		}
	}
	flusher.Flush()

	client := &sseClient{
		queue: newQueue(h.opts.SendBuffer),
		id:    uuid.New().String(),
	}
	h.Register(client)
	defer h.Unregister(client)

	h.logger.Debug("sse client connected",
		zap.String("clientID", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	keepAlive := time.NewTicker(h.opts.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case msg := <-client.send:
			if err := writeEvent(w, msg); err != nil {
				h.logger.Debug("failed to write to sse client", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
