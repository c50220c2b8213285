package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"

	"medgate/cmd/identity/ids"
	v1 "medgate/shared/contracts/auth/v1"
)

// TCPServer accepts raw TCP connections carrying a stream of JSON frames.
type TCPServer struct {
	addr   string
	router *Router
	cfg    Config
	log    *slog.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[string]net.Conn
	wg    sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once
}

// NewTCPServer prepares a server for addr. Nothing is bound until Listen.
func NewTCPServer(addr string, router *Router, cfg Config, log *slog.Logger) *TCPServer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &TCPServer{
		addr:   addr,
		router: router,
		cfg:    cfg.normalized(),
		log:    log,
		conns:  make(map[string]net.Conn),
		quit:   make(chan struct{}),
	}
}

// Listen binds the listening socket.
func (s *TCPServer) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return oops.In("tcp").Code("LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done, then closes the listener and
// every open connection and waits for their goroutines. It calls Listen
// first if needed.
func (s *TCPServer) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	s.log.Info("tcp.listen", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeAll()
	})
	defer stop()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = oops.In("tcp").Code("ACCEPT_FAILED").Wrap(err)
			}
			break
		}
		s.track(conn)
	}

	_ = ln.Close()
	s.closeAll()
	s.wg.Wait()
	s.log.Info("tcp.stopped", "addr", ln.Addr().String())
	return acceptErr
}

func (s *TCPServer) track(conn net.Conn) {
	id := ids.NewConnID()

	s.mu.Lock()
	s.conns[id] = conn
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.handle(id, conn)

		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
	}()
}

// Close releases a listener bound by Listen that was never served.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *TCPServer) closeAll() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func (s *TCPServer) handle(id string, conn net.Conn) {
	client := NewClient(id, TransportTCP, conn.RemoteAddr().String(), s.cfg.SendQueueSize)
	s.router.OnAccept(client)

	var closeOnce sync.Once
	shutdown := func(reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close()
			s.log.Debug("tcp.conn.shutdown", "conn_id", id, "reason", reason)
		})
	}

	flush := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(client, conn, flush, shutdown)
	}()

	if err := s.readLoop(client, conn); errors.Is(err, io.EOF) {
		s.settle(client, flush, writerDone)
	}

	s.router.OnDisconnect(client)
	shutdown("read ended")
	<-writerDone
}

// readLoop dispatches frames until the read side ends and returns why.
func (s *TCPServer) readLoop(client *Client, conn net.Conn) error {
	frames := NewFrameReader(idleReader{conn: conn, idle: s.cfg.ReadIdleTimeout}, maxFrameBytes)
	for {
		frame, err := frames.Next()
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				s.router.Reject(client, perr)
				continue
			}
			s.logReadEnd(client.ID, err)
			return err
		}
		s.router.OnFrame(client, frame)
	}
}

// settle handles a peer that closed only its write side: results for the
// requests it already sent are still written, within halfCloseGrace.
func (s *TCPServer) settle(client *Client, flush chan<- struct{}, writerDone <-chan struct{}) {
	timer := time.NewTimer(halfCloseGrace)
	defer timer.Stop()

	select {
	case <-client.Settled():
	case <-timer.C:
		s.log.Info("tcp.conn.settle_timeout", "conn_id", client.ID)
		return
	case <-client.Done():
		return
	case <-s.quit:
		return
	}
	close(flush)
	<-writerDone
}

// writeLoop writes queued results until the client closes. Once flush is
// closed it writes whatever is still queued and returns.
func (s *TCPServer) writeLoop(client *Client, conn net.Conn, flush <-chan struct{}, shutdown func(string)) {
	enc := json.NewEncoder(conn)
	write := func(resp v1.Response) bool {
		if err := writeFrame(conn, enc, resp, s.cfg.WriteTimeout); err != nil {
			s.log.Info("tcp.write.fail", "conn_id", client.ID, "err", err)
			shutdown("write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-client.Done():
			return
		case <-flush:
			for {
				select {
				case resp := <-client.Outbox():
					if !write(resp) {
						return
					}
				default:
					return
				}
			}
		case resp := <-client.Outbox():
			if !write(resp) {
				return
			}
		}
	}
}

// writeFrame writes resp as one newline-terminated JSON document.
func writeFrame(conn net.Conn, enc *json.Encoder, resp v1.Response, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return enc.Encode(resp)
}

func (s *TCPServer) logReadEnd(id string, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		s.log.Info("tcp.conn.eof", "conn_id", id)
	case errors.Is(err, net.ErrClosed):
		s.log.Debug("tcp.conn.closed", "conn_id", id)
	case errors.As(err, &ne) && ne.Timeout():
		s.log.Info("tcp.conn.idle_timeout", "conn_id", id)
	default:
		s.log.Info("tcp.read.fail", "conn_id", id, "err", err)
	}
}

// idleReader pushes the read deadline forward before every read.
type idleReader struct {
	conn net.Conn
	idle time.Duration
}

func (r idleReader) Read(p []byte) (int, error) {
	if r.idle > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.idle)); err != nil {
			return 0, err
		}
	}
	return r.conn.Read(p)
}
