package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"shale/internal/common"
	"shale/internal/db"
)

const (
	DEFAULT_MAX_CONNS      = 256
	DEFAULT_MAX_LINE_BYTES = 1 << 20
	acceptRetryDelay       = 50 * time.Millisecond
)

// Store is the engine surface the server drives.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Scan(start, end []byte) (*db.Iterator, error)
}

type Options struct {
	// MaxConns bounds concurrently served connections. Further clients
	// wait in the listen backlog.
	MaxConns int64
	// IdleTimeout closes a connection with no request for this long.
	// Zero disables it.
	IdleTimeout  time.Duration
	MaxLineBytes int
}

func DefaultOptions() Options {
	return Options{
		MaxConns:     DEFAULT_MAX_CONNS,
		MaxLineBytes: DEFAULT_MAX_LINE_BYTES,
	}
}

// Server serves the line protocol over TCP. It holds no storage state of
// its own.
type Server struct {
	store Store
	opts  Options
	log   *zap.Logger
	sem   *semaphore.Weighted

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func New(store Store, opts Options, log *zap.Logger) *Server {
	if opts.MaxConns <= 0 {
		opts.MaxConns = DEFAULT_MAX_CONNS
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DEFAULT_MAX_LINE_BYTES
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store: store,
		opts:  opts,
		log:   log,
		sem:   semaphore.NewWeighted(opts.MaxConns),
		conns: make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open connection and waits for handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		s.closeConns()
		return nil
	})

	g.Go(func() error {
		for {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			conn, err := ln.Accept()
			if err != nil {
				s.sem.Release(1)
				if ctx.Err() != nil {
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					time.Sleep(acceptRetryDelay)
					continue
				}
				return fmt.Errorf("accept: %w", err)
			}
			if !s.track(conn) {
				conn.Close()
				s.sem.Release(1)
				continue
			}
			g.Go(func() error {
				defer s.sem.Release(1)
				defer s.untrack(conn)
				s.handle(conn)
				return nil
			})
		}
	})

	return g.Wait()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *Server) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	start := time.Now()
	s.log.Info("connection opened", zap.String("remote", remote))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), s.opts.MaxLineBytes)
	w := bufio.NewWriter(conn)

	requests := 0
	for {
		if s.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if len(line) == 0 || line == "\r" {
			continue
		}
		requests++
		s.execute(w, line)
		if err := w.Flush(); err != nil {
			s.log.Debug("write failed", zap.String("remote", remote), zap.Error(err))
			break
		}
	}

	fields := []zap.Field{
		zap.String("remote", remote),
		zap.Int("requests", requests),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		fields = append(fields, zap.Error(err))
		if errors.Is(err, bufio.ErrTooLong) {
			fmt.Fprintln(w, FormatError(common.InvalidArgument("read", "request line too long")))
			w.Flush()
		}
	}
	s.log.Info("connection closed", fields...)
}

// execute runs one request line and writes its response lines to w.
func (s *Server) execute(w *bufio.Writer, line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		fmt.Fprintln(w, FormatError(err))
		return
	}

	switch cmd.Op {
	case OpPing:
		fmt.Fprintln(w, RespPong)
	case OpGet:
		value, err := s.store.Get(cmd.Key)
		switch {
		case errors.Is(err, db.ErrNotFound):
			fmt.Fprintln(w, RespNotFound)
		case err != nil:
			fmt.Fprintln(w, FormatError(err))
		default:
			fmt.Fprintf(w, "%s %s\n", RespValue, value)
		}
	case OpPut:
		s.reply(w, s.store.Put(cmd.Key, cmd.Value))
	case OpDelete:
		s.reply(w, s.store.Delete(cmd.Key))
	case OpScan:
		s.scan(w, cmd)
	}
}

func (s *Server) reply(w *bufio.Writer, err error) {
	if err != nil {
		fmt.Fprintln(w, FormatError(err))
		return
	}
	fmt.Fprintln(w, RespOK)
}

func (s *Server) scan(w *bufio.Writer, cmd *Command) {
	it, err := s.store.Scan(cmd.Key, cmd.End)
	if err != nil {
		fmt.Fprintln(w, FormatError(err))
		return
	}
	defer it.Close()

	for it.Next() {
		fmt.Fprintf(w, "%s %s %s\n", RespEntry, it.Key(), it.Value())
	}
	if err := it.Err(); err != nil {
		fmt.Fprintln(w, FormatError(err))
		return
	}
	fmt.Fprintln(w, RespEnd)
}
