package server_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"shale/internal/db"
	"shale/internal/server"

	"github.com/stretchr/testify/require"
)

type harness struct {
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, opts server.Options) *harness {
	t.Helper()
	store, err := db.Open(db.WithDir(t.TempDir()), db.WithCompactionInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	srv := server.New(store, opts, nil)
	go func() { h.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *client) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func (c *client) do(t *testing.T, line string) string {
	t.Helper()
	c.send(t, line)
	return c.readLine(t)
}

func TestCommands(t *testing.T) {
	h := startServer(t, server.DefaultOptions())
	c := dial(t, h.addr)

	require.Equal(t, "PONG", c.do(t, "PING"))
	require.Equal(t, "NOT_FOUND", c.do(t, "GET a"))
	require.Equal(t, "OK", c.do(t, "PUT a 1"))
	require.Equal(t, "VALUE 1", c.do(t, "GET a"))
	require.Equal(t, "OK", c.do(t, "INSERT b two words"))
	require.Equal(t, "VALUE two words", c.do(t, "get b"))
	require.Equal(t, "OK", c.do(t, "UPDATE a 2"))
	require.Equal(t, "VALUE 2", c.do(t, "GET a"))
	require.Equal(t, "OK", c.do(t, "DELETE a"))
	require.Equal(t, "NOT_FOUND", c.do(t, "GET a"))
	require.True(t, strings.HasPrefix(c.do(t, "FROB x"), "ERR invalid_argument "))

	// The connection stays usable after an error.
	require.Equal(t, "PONG", c.do(t, "PING"))
}

func TestScan(t *testing.T) {
	h := startServer(t, server.DefaultOptions())
	c := dial(t, h.addr)

	for _, kv := range []string{"a 1", "b 2", "c 3", "d 4"} {
		require.Equal(t, "OK", c.do(t, "PUT "+kv))
	}
	require.Equal(t, "OK", c.do(t, "DELETE c"))

	c.send(t, "SCAN b e")
	require.Equal(t, "ENTRY b 2", c.readLine(t))
	require.Equal(t, "ENTRY d 4", c.readLine(t))
	require.Equal(t, "END", c.readLine(t))

	require.Equal(t, "END", c.do(t, "SCAN b b"))
	require.True(t, strings.HasPrefix(c.do(t, "SCAN b a"), "ERR invalid_argument "))

	c.send(t, "SCAN")
	for _, want := range []string{"ENTRY a 1", "ENTRY b 2", "ENTRY d 4", "END"} {
		require.Equal(t, want, c.readLine(t))
	}
}

func TestConnectionLimit(t *testing.T) {
	opts := server.DefaultOptions()
	opts.MaxConns = 1
	h := startServer(t, opts)

	first := dial(t, h.addr)
	require.Equal(t, "PONG", first.do(t, "PING"))

	second := dial(t, h.addr)
	second.send(t, "PING")
	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := second.r.ReadString('\n')
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	require.True(t, ne.Timeout())

	// Freeing the slot lets the queued client through.
	require.NoError(t, first.conn.Close())
	require.Equal(t, "PONG", second.readLine(t))
}

func TestShutdownClosesConnections(t *testing.T) {
	h := startServer(t, server.DefaultOptions())
	c := dial(t, h.addr)
	require.Equal(t, "PONG", c.do(t, "PING"))

	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := c.r.ReadString('\n')
	require.Error(t, err)
}

func TestIdleTimeout(t *testing.T) {
	opts := server.DefaultOptions()
	opts.IdleTimeout = 50 * time.Millisecond
	h := startServer(t, opts)

	c := dial(t, h.addr)
	require.Equal(t, "PONG", c.do(t, "PING"))
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := c.r.ReadString('\n')
	require.Error(t, err)
}
