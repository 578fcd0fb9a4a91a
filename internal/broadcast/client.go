package broadcast

import (
	"sync"
	"time"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256

	// Interval between SSE comment keep-alives.
	sseKeepAlive = 30 * time.Second
)

// queue is a client's outbound FIFO. It is drained by exactly one writer.
// send is never closed so a late Push cannot panic; done signals shutdown.
type queue struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newQueue(size int) *queue {
	return &queue{
		send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func (q *queue) push(msg []byte) error {
	select {
	case <-q.done:
		return ErrClientClosed
	default:
	}

	select {
	case q.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func (q *queue) close() {
	q.once.Do(func() { close(q.done) })
}
