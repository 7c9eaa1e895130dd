package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/yeqown/submemd/bucket"
	"github.com/yeqown/submemd/conn"
	"github.com/yeqown/submemd/wire"
)

// Config configures a Server's listen address and default bucket
// selection. A raw TCP accept loop is outside this module's teacher's
// scope (a pure binary-protocol client), so its shape is grounded on
// a quit-channel-plus-WaitGroup listener loop instead.
type Config struct {
	ListenAddr string
	Listener   net.Listener

	// DefaultBucket selects which bucket an un-selected connection
	// dispatches against. spec.md assigns no wire opcode to bucket
	// selection, so a connection's bucket is fixed for its lifetime.
	DefaultBucket *bucket.Bucket

	// MaxDocSize bounds the per-connection docbuf.Buffer growth.
	MaxDocSize int

	Logger *slog.Logger
}

// Server accepts connections and dispatches every request read off
// them against Config.DefaultBucket via a Dispatcher.
type Server struct {
	config     Config
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
	conns    map[*conn.ServerConn]struct{}
}

// NewServer constructs a Server. cfg.Listener, if set, is used in place
// of dialing cfg.ListenAddr (useful for tests binding to ":0").
func NewServer(cfg Config, dispatcher *Dispatcher) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     cfg,
		dispatcher: dispatcher,
		logger:     logger,
		quit:       make(chan struct{}),
		conns:      make(map[*conn.ServerConn]struct{}),
	}
}

// Start opens the listener and begins accepting connections in the
// background. It returns once the listener is bound, not once the
// accept loop exits.
func (srv *Server) Start() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.running {
		return errors.New("server: already running")
	}

	if srv.config.Listener != nil {
		srv.listener = srv.config.Listener
	} else {
		ln, err := net.Listen("tcp", srv.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("server: listen: %w", err)
		}
		srv.listener = ln
	}

	srv.running = true
	srv.wg.Add(1)
	go srv.listenLoop()
	return nil
}

// Stop closes the listener and every open connection, unblocking both
// the accept loop and any handleConn goroutine parked in a blocking
// read, then waits for all of them to return.
func (srv *Server) Stop() {
	srv.mu.Lock()
	if !srv.running {
		srv.mu.Unlock()
		return
	}
	srv.running = false
	close(srv.quit)
	_ = srv.listener.Close()
	for sc := range srv.conns {
		_ = sc.Close()
	}
	srv.mu.Unlock()

	srv.wg.Wait()
}

// Running reports whether the accept loop is currently active.
func (srv *Server) Running() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.running
}

// Addr returns the bound listen address, useful when ListenAddr was
// ":0". Returns nil before Start; after Stop it still returns the address
// the closed listener was bound to.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

func (srv *Server) listenLoop() {
	defer srv.wg.Done()

	for {
		rawConn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.quit:
				return
			default:
				srv.logger.Warn("server: accept error", "error", err)
				continue
			}
		}

		maxDoc := srv.config.MaxDocSize
		if maxDoc <= 0 {
			maxDoc = int(srv.dispatcher.Limits.MaxBodyLength)
		}
		sc := conn.NewServerConn(rawConn, srv.config.DefaultBucket, maxDoc)

		srv.mu.Lock()
		srv.conns[sc] = struct{}{}
		srv.mu.Unlock()

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handleConn(sc)
		}()
	}
}

// handleConn reads wire.Packets off sc until it errors or the server
// shuts down, dispatching each in turn against sc's bucket and scratch
// buffer, matching spec.md §4.4's connection-owned-scratch-buffer
// model.
func (srv *Server) handleConn(sc *conn.ServerConn) {
	defer func() {
		sc.Close()
		srv.mu.Lock()
		delete(srv.conns, sc)
		srv.mu.Unlock()
	}()

	ctx := context.Background()

	for {
		select {
		case <-srv.quit:
			return
		default:
		}

		req, err := wire.ReadPacket(sc.Reader())
		if err != nil {
			return
		}

		resp, err := srv.dispatcher.Dispatch(ctx, sc.Bucket, sc.Scratch, req)
		if err != nil {
			srv.logger.Warn("server: dispatch error, closing connection", "error", err)
			return
		}

		if _, err := resp.WriteTo(sc); err != nil {
			return
		}
		if err := sc.Flush(); err != nil {
			return
		}
	}
}
