package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
	"github.com/rxtech-lab/argo-stream/pkg/transport"
)

// fakeDialer hands out in-memory connections and remembers every one of them.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	headers  []http.Header
	failures int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		mu:       sync.Mutex{},
		conns:    nil,
		headers:  nil,
		failures: 0,
	}
}

// failNext makes the next n dials fail.
func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures = n
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.headers = append(d.headers, header.Clone())

	if d.failures > 0 {
		d.failures--

		return nil, errors.New(errors.ErrCodeTransportConnect, "connection refused")
	}

	conn := newFakeConn()
	d.conns = append(d.conns, conn)

	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.conns) == 0 {
		return nil
	}

	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.conns[i]
}

func (d *fakeDialer) lastHeader() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.headers) == 0 {
		return nil
	}

	return d.headers[len(d.headers)-1]
}

// fakeConn is an in-memory transport.Conn. Frames pushed by the test are
// returned by Receive; commands written by the worker are recorded.
type fakeConn struct {
	frames    chan []byte
	faults    chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:    make(chan []byte, 64),
		faults:    make(chan error, 1),
		closed:    make(chan struct{}),
		closeOnce: sync.Once{},
		mu:        sync.Mutex{},
		sent:      nil,
	}
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errors.New(errors.ErrCodeTransportSend, "connection closed")
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, slices.Clone(frame))

	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case err := <-c.faults:
		return nil, err
	case <-c.closed:
		return nil, errors.New(errors.ErrCodeTransportReceive, "connection closed")
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeTransportReceive, "receive interrupted", ctx.Err())
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})

	return nil
}

func (c *fakeConn) push(frames ...[]byte) {
	for _, frame := range frames {
		c.frames <- frame
	}
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.faults <- errors.New(errors.ErrCodeTransportReceive, "connection reset by peer")
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type sentCommand struct {
	Action    string `json:"action"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Specifier string `json:"specifier"`
}

func (c *fakeConn) commands() []sentCommand {
	c.mu.Lock()
	defer c.mu.Unlock()

	commands := make([]sentCommand, 0, len(c.sent))
	for _, raw := range c.sent {
		var cmd sentCommand
		if err := json.Unmarshal(raw, &cmd); err == nil {
			commands = append(commands, cmd)
		}
	}

	return commands
}

// subscribed returns the instruments subscribed on this connection, in send order.
func (c *fakeConn) subscribed() []string {
	var ids []string

	for _, cmd := range c.commands() {
		if cmd.Action == "subscribe" {
			ids = append(ids, cmd.Value)
		}
	}

	return ids
}

func (c *fakeConn) unsubscribed() []string {
	var ids []string

	for _, cmd := range c.commands() {
		if cmd.Action == "unsubscribe" {
			ids = append(ids, cmd.Value)
		}
	}

	return ids
}

func tradeFrameFor(isin string) []byte {
	return []byte(`{"isin":"` + isin + `","price":123.4,"quantity":5,"side":"buy","date":1700000000}`)
}
