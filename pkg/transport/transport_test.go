package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

type TransportTestSuite struct {
	suite.Suite
	server  *httptest.Server
	headers chan http.Header
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

// SetupTest starts an echo server that also records the handshake headers.
func (suite *TransportTestSuite) SetupTest() {
	suite.headers = make(chan http.Header, 1)
	//nolint:exhaustruct // only origin check matters for tests
	upgrader := websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

	suite.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case suite.headers <- r.Header.Clone():
		default:
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			// "silence" asks the server to stay quiet so the client blocks on receive.
			if string(data) == "silence" {
				continue
			}

			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func (suite *TransportTestSuite) TearDownTest() {
	suite.server.Close()
}

func (suite *TransportTestSuite) wsURL() string {
	return "ws" + strings.TrimPrefix(suite.server.URL, "http")
}

func (suite *TransportTestSuite) dialers() map[Kind]Dialer {
	gorilla, err := NewDialer(KindGorilla, time.Second)
	suite.Require().NoError(err)

	nhooyr, err := NewDialer(KindNhooyr, time.Second)
	suite.Require().NoError(err)

	return map[Kind]Dialer{KindGorilla: gorilla, KindNhooyr: nhooyr}
}

func (suite *TransportTestSuite) TestSendReceiveEcho() {
	for kind, dialer := range suite.dialers() {
		suite.Run(string(kind), func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			conn, err := dialer.Dial(ctx, suite.wsURL(), nil)
			suite.Require().NoError(err)
			defer conn.Close()

			suite.Require().NoError(conn.Send(ctx, []byte(`{"action":"subscribe"}`)))

			frame, err := conn.Receive(ctx)
			suite.Require().NoError(err)
			suite.JSONEq(`{"action":"subscribe"}`, string(frame))
		})
	}
}

func (suite *TransportTestSuite) TestHeadersAreForwarded() {
	dialer := NewGorillaDialer(time.Second)
	header := http.Header{}
	header.Set("Authorization", "Bearer secret")

	conn, err := dialer.Dial(context.Background(), suite.wsURL(), header)
	suite.Require().NoError(err)
	defer conn.Close()

	select {
	case got := <-suite.headers:
		suite.Equal("Bearer secret", got.Get("Authorization"))
	case <-time.After(time.Second):
		suite.Fail("handshake headers not recorded")
	}
}

func (suite *TransportTestSuite) TestReceiveUnblocksOnCancel() {
	for kind, dialer := range suite.dialers() {
		suite.Run(string(kind), func() {
			conn, err := dialer.Dial(context.Background(), suite.wsURL(), nil)
			suite.Require().NoError(err)
			defer conn.Close()

			suite.Require().NoError(conn.Send(context.Background(), []byte("silence")))

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)

			start := time.Now()
			_, err = conn.Receive(ctx)
			suite.Error(err)
			suite.True(errors.HasCode(err, errors.ErrCodeTransportReceive))
			suite.ErrorIs(err, context.Canceled)
			suite.Less(time.Since(start), time.Second)
		})
	}
}

func (suite *TransportTestSuite) TestCloseIsIdempotent() {
	for kind, dialer := range suite.dialers() {
		suite.Run(string(kind), func() {
			conn, err := dialer.Dial(context.Background(), suite.wsURL(), nil)
			suite.Require().NoError(err)

			_ = conn.Close()
			first := conn.Close()
			second := conn.Close()
			suite.Equal(first, second)
		})
	}
}

func (suite *TransportTestSuite) TestDialFailure() {
	for kind, dialer := range suite.dialers() {
		suite.Run(string(kind), func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			conn, err := dialer.Dial(ctx, "ws://127.0.0.1:1/unreachable", nil)
			suite.Nil(conn)
			suite.Error(err)
			suite.True(errors.HasCode(err, errors.ErrCodeTransportConnect))
		})
	}
}

func (suite *TransportTestSuite) TestNewDialerUnknownKind() {
	dialer, err := NewDialer(Kind("carrier-pigeon"), time.Second)
	suite.Nil(dialer)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *TransportTestSuite) TestNewDialerDefaultsToGorilla() {
	dialer, err := NewDialer("", time.Second)
	suite.NoError(err)
	suite.IsType(&GorillaDialer{}, dialer)
}
