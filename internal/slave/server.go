package slave

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tonylturner/mbstack/internal/logging"
	"github.com/tonylturner/mbstack/internal/modbus"
	"github.com/tonylturner/mbstack/internal/transport"
)

// Server accepts TCP or TCP-PI clients and runs one slave Context per
// connection. All contexts share one Handler and therefore one mapping.
type Server struct {
	ch      *transport.TCPChannel
	handler *Handler
	backlog int
	opts    []Option
	logger  *logging.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sem      chan struct{}

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer creates a server listening where ch points. backlog caps the
// number of connections served at once (minimum 1). opts apply to every
// per-connection context.
func NewServer(ch *transport.TCPChannel, h *Handler, backlog int, logger *logging.Logger, opts ...Option) *Server {
	if backlog < 1 {
		backlog = 1
	}
	if logger == nil {
		logger = silent
	}
	return &Server{
		ch:      ch,
		handler: h,
		backlog: backlog,
		opts:    opts,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting clients.
func (s *Server) Start() error {
	l, err := s.ch.Listen(s.backlog)
	if err != nil {
		return err
	}
	s.listener = l
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sem = make(chan struct{}, s.backlog)

	s.logger.Info("%s server listening on %s", s.ch.Kind(), l.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every client connection, then waits for
// the connection goroutines.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		// wait for a free slot before taking the next client
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			<-s.sem
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Info("New connection from %s", remote)

	c := New(s.ch.WithConn(conn), s.handler, s.opts...)
	err := c.Serve(s.ctx)
	switch {
	case err == nil, s.ctx.Err() != nil:
	case errors.Is(err, modbus.ErrClosed):
		s.logger.Info("Connection closed by client: %s", remote)
	default:
		s.logger.Error("Connection %s: %v", remote, err)
	}
}

// String describes the server.
func (s *Server) String() string {
	return fmt.Sprintf("Server(%s, backlog=%d)", s.ch, s.backlog)
}
