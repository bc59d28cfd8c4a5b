// Package transport defines the connection primitive the streaming engine needs:
// connect, send, blocking receive and close. Two WebSocket implementations are
// provided, one built on gorilla/websocket and one on nhooyr.io/websocket.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

// Kind selects a Dialer implementation.
type Kind string

const (
	KindGorilla Kind = "gorilla"
	KindNhooyr  Kind = "nhooyr"
)

// DefaultReadLimit is the maximum size in bytes of a single inbound frame.
const DefaultReadLimit = 1 << 20

// Conn is a live, full-duplex text frame connection.
// A Conn is owned by a single goroutine; Receive may be unblocked from another
// goroutine only by cancelling the context passed to it.
type Conn interface {
	// Send writes one text frame.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until a frame arrives, the connection fails or ctx is done.
	// Once Receive returned an error the connection must be discarded.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens connections to a feed endpoint.
type Dialer interface {
	// Dial connects to url. The ctx deadline bounds the handshake only.
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// NewDialer creates the Dialer for the given kind.
func NewDialer(kind Kind, handshakeTimeout time.Duration) (Dialer, error) {
	switch kind {
	case KindGorilla, "":
		return NewGorillaDialer(handshakeTimeout), nil
	case KindNhooyr:
		return NewNhooyrDialer(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported transport: %s", kind)
	}
}

// receiveError converts a receive failure into a coded error, preferring the
// context error when the receive was interrupted on purpose.
func receiveError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(errors.ErrCodeTransportReceive, "receive interrupted", ctxErr)
	}

	return errors.Wrap(errors.ErrCodeTransportReceive, "failed to receive frame", err)
}
