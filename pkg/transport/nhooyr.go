package transport

import (
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

// NhooyrDialer dials feed endpoints with nhooyr.io/websocket, whose reads are
// natively context aware.
type NhooyrDialer struct{}

// NewNhooyrDialer creates a NhooyrDialer.
func NewNhooyrDialer() *NhooyrDialer {
	return &NhooyrDialer{}
}

// Dial implements Dialer.
func (d *NhooyrDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	//nolint:exhaustruct // third-party struct with many optional fields
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeTransportConnect, err, "failed to connect to %s", url)
	}

	conn.SetReadLimit(DefaultReadLimit)

	return &nhooyrConn{conn: conn, closeOnce: sync.Once{}, closeErr: nil}, nil
}

type nhooyrConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *nhooyrConn) Send(ctx context.Context, frame []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return errors.Wrap(errors.ErrCodeTransportSend, "failed to send frame", err)
	}

	return nil
}

func (c *nhooyrConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, receiveError(ctx, err)
	}

	return data, nil
}

func (c *nhooyrConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "")
	})

	return c.closeErr
}
