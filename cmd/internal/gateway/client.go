package gateway

import (
	"sync"
	"time"

	v1 "medgate/shared/contracts/auth/v1"
)

// Transport names used in logs, metrics and the registry.
const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// Client is one accepted connection as the router sees it.
//
// Send is never closed by the server so that a late result racing a
// disconnect cannot panic; done tells the writer to stop. Close is idempotent.
type Client struct {
	ID         string
	Transport  string
	RemoteAddr string
	AcceptedAt time.Time

	send      chan v1.Response
	done      chan struct{}
	closeOnce sync.Once

	// jobs counts dispatched requests whose result is not yet queued.
	jobs sync.WaitGroup
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, transport, remoteAddr string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:         id,
		Transport:  transport,
		RemoteAddr: remoteAddr,
		AcceptedAt: time.Now().UTC(),
		send:       make(chan v1.Response, sendQueueSize),
		done:       make(chan struct{}),
	}
}

// Enqueue queues resp for the writer without waiting. It reports false when
// the queue is full or the client is closed; the frame is then dropped.
func (c *Client) Enqueue(resp v1.Response) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- resp:
		return true
	default:
		return false
	}
}

// Outbox is the receive side of the send queue, drained by the writer.
func (c *Client) Outbox() <-chan v1.Response { return c.send }

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Settled returns a channel closed once every request dispatched for c has
// had its result queued or dropped. Only call it after the reader stopped
// dispatching.
func (c *Client) Settled() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		c.jobs.Wait()
		close(ch)
	}()
	return ch
}
