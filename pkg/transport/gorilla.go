package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

// GorillaDialer dials feed endpoints with gorilla/websocket.
type GorillaDialer struct {
	dialer *websocket.Dialer
}

// NewGorillaDialer creates a GorillaDialer with the given handshake timeout.
func NewGorillaDialer(handshakeTimeout time.Duration) *GorillaDialer {
	//nolint:exhaustruct // third-party struct with many optional fields
	return &GorillaDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial implements Dialer.
func (d *GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(errors.ErrCodeTransportConnect, err, "failed to connect to %s (status %d)", url, resp.StatusCode)
		}

		return nil, errors.Wrapf(errors.ErrCodeTransportConnect, err, "failed to connect to %s", url)
	}

	conn.SetReadLimit(DefaultReadLimit)

	return &gorillaConn{conn: conn, closeOnce: sync.Once{}, closeErr: nil}, nil
}

type gorillaConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *gorillaConn) Send(ctx context.Context, frame []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(errors.ErrCodeTransportSend, "failed to set write deadline", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrap(errors.ErrCodeTransportSend, "failed to send frame", err)
	}

	return nil
}

func (c *gorillaConn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, receiveError(ctx, err)
	}

	// gorilla reads are not context aware; an expired read deadline unblocks them.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, receiveError(ctx, err)
	}

	return data, nil
}

func (c *gorillaConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}
