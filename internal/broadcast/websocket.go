package broadcast

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is a downstream WebSocket connection.
type wsClient struct {
	*queue
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger
}

func (c *wsClient) ID() string            { return c.id }
func (c *wsClient) Transport() Transport  { return TransportWebSocket }
func (c *wsClient) Push(msg []byte) error { return c.push(msg) }
func (c *wsClient) Close()                { c.close() }

// ServeWS upgrades the request, queues initial (if any) as the first message
// and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		queue:  newQueue(h.opts.SendBuffer),
		id:     uuid.New().String(),
		conn:   conn,
		hub:    h,
		logger: h.logger,
	}

	if len(initial) > 0 {
		_ = client.Push(initial)
	}
	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump consumes inbound messages until the peer goes away.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("clientID", c.id),
					zap.Error(err),
				)
			}
			return
		}
		// Downstream clients have nothing to send; log and ignore.
		c.logger.Debug("message from downstream client",
			zap.String("clientID", c.id),
			zap.Int("bytes", len(message)),
		)
	}
}

// writePump drains the send queue to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("clientID", c.id),
					zap.Error(err),
				)
				c.close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
