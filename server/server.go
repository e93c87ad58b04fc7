// Package server is the public API surface (spec §4.J): a Server owns a
// route registry, an ordered error handler chain, and (from the first
// server started in the process) a shared worker pool, and drives an
// accept loop that hands each connection to its own exchange orchestrator.
package server

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/martinanderssondotcom/nomagichttp/internal/exchange"
	"github.com/martinanderssondotcom/nomagichttp/internal/recovery"
	"github.com/martinanderssondotcom/nomagichttp/internal/router"
	"github.com/martinanderssondotcom/nomagichttp/internal/workerpool"
)

var (
	poolOnce   sync.Once
	sharedPool *workerpool.Pool
)

// sharedWorkerPool returns the process-wide pool, creating it from size
// on the first call. Later calls with a different size are ignored,
// matching spec §5's "sized per config at first-server start" / §9's
// "created on first server start in the process ... shared by all
// servers" rule.
func sharedWorkerPool(size int) *workerpool.Pool {
	poolOnce.Do(func() {
		sharedPool = workerpool.New(size)
	})
	return sharedPool
}

// Server owns a route registry, an error handler chain, and a listener.
// The zero value is not usable; construct with New.
type Server struct {
	cfg      Config
	registry *router.Registry
	recovery *recovery.Chain
	log      *zap.Logger
	pool     *workerpool.Pool

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	active   map[net.Conn]struct{}
	stopping bool
}

// New creates a Server. log may be nil, in which case a no-op logger is
// used. handlers are the application error handlers, tried in order
// ahead of the built-in default handler (spec §4.I).
func New(cfg Config, log *zap.Logger, handlers ...recovery.Handler) *Server {
	cfg = withDefaults(cfg)
	if log == nil {
		log = zap.NewNop()
	}

	chain := recovery.New(recovery.Config{
		MaxAttempts:           cfg.MaxErrorRecoveryAttempts,
		IgnoreRejectedInterim: cfg.IgnoreRejectedInterim,
	}, func(kindName string, err error) {
		log.Warn("exchange failed", zap.String("kind", kindName), zap.Error(err))
	}, handlers...)

	return &Server{
		cfg:      cfg,
		registry: router.NewRegistry(),
		recovery: chain,
		log:      log,
		active:   map[net.Conn]struct{}{},
	}
}

// Handle registers pattern with the given handlers (spec §4.D route
// pattern syntax: a segment beginning with ':' is a named parameter, a
// segment beginning with '*' is a trailing catch-all).
func (s *Server) Handle(pattern string, handlers ...*router.Handler) (router.RouteID, error) {
	return s.registry.Add(pattern, handlers...)
}

// Start opens a listening endpoint at addr (loopback on an ephemeral
// port if addr is empty) and begins accepting connections in the
// background. It returns the bound address so callers that asked for an
// ephemeral port can discover which one they got.
func (s *Server) Start(addr string) (net.Addr, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.pool = sharedWorkerPool(s.cfg.WorkerPoolSize)
	s.mu.Unlock()

	s.log.Info("server started", zap.String("addr", ln.Addr().String()))
	go s.acceptLoop(ctx, ln)
	return ln.Addr(), nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}

		s.wg.Add(1)
		s.mu.Lock()
		s.active[conn] = struct{}{}
		s.mu.Unlock()

		loop := exchange.New(conn, s.registry, s.recovery, exchange.Config{
			MaxRequestHeadSize: s.cfg.MaxRequestHeadSize,
			RejectHTTP10:       s.cfg.RejectHTTP10,
			HeadTimeout:        s.cfg.HeadTimeout,
			BodyTimeout:        s.cfg.BodyTimeout,
			ResponseTimeout:    s.cfg.ResponseTimeout,
		})

		submitErr := s.pool.Go(ctx, func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.active, conn)
				s.mu.Unlock()
			}()
			loop.Run(ctx)
		})
		if submitErr != nil {
			// Pool couldn't admit the connection before ctx was cancelled
			// (server stopping): close it immediately instead of leaking.
			s.wg.Done()
			s.mu.Lock()
			delete(s.active, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}
	}
}

// Stop closes the listener immediately, rejecting new connections, and
// blocks until every in-flight exchange on every already-accepted
// connection drains on its own (spec §4.J "returns a future completing
// when in-flight exchanges drain"). ctx bounds how long to wait; if it
// is cancelled first, Stop returns ctx.Err() without aborting anything
// in flight.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopNow closes the listener and aborts every in-flight exchange: every
// currently-accepted connection is force-closed (unblocking any pending
// read/write so each exchange loop unwinds) and the shared context
// passed to every loop is cancelled (spec §4.J, §5 "Cancellation and
// timeouts").
func (s *Server) StopNow() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	ln := s.listener
	cancel := s.cancel
	conns := make([]net.Conn, 0, len(s.active))
	for c := range s.active {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if cancel != nil {
		cancel()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	s.log.Info("server stopped now")
}

// Addr reports the listener's bound address, or nil if Start has not
// been called. After Stop or StopNow it still reports the address the
// now-closed listener was bound to.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
