// Package mockserver provides a mock market data streaming server for testing.
// It speaks the subscribe/unsubscribe command protocol over WebSocket and pushes
// generated trade or quote frames for every subscribed instrument.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rxtech-lab/argo-stream/mocks"
)

// BasePath is the path prefix the feeds are mounted under.
const BasePath = "/streams/v1/"

// Command is a client command as received by the server.
type Command struct {
	SessionID string `json:"-"`
	Feed      string `json:"-"`
	Action    string `json:"action"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Specifier string `json:"specifier"`
}

// ServerConfig holds configuration for the mock server.
type ServerConfig struct {
	// StreamInterval is the interval between generated frames per instrument.
	// Zero disables generation; frames are then only sent through Push.
	StreamInterval time.Duration
	// Token, when set, is required as a bearer token on every connection
	Token string
	// Seed for the frame generator
	Seed int64
}

// session is one live client connection.
type session struct {
	id      string
	feed    string
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]string
	done    chan struct{}
}

// MockFeedServer is a mock push feed server.
type MockFeedServer struct {
	mu sync.RWMutex

	// HTTP server
	httpServer *http.Server
	listener   net.Listener

	// WebSocket upgrader
	upgrader websocket.Upgrader

	config   ServerConfig
	sessions map[string]*session
	commands []Command
	headers  []http.Header
	rejects  int
	total    int
}

// NewMockFeedServer creates a new mock feed server.
func NewMockFeedServer(config ServerConfig) *MockFeedServer {
	return &MockFeedServer{
		mu:         sync.RWMutex{},
		httpServer: nil,
		listener:   nil,
		upgrader: websocket.Upgrader{ //nolint:exhaustruct // only origin check matters for tests
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		config:   config,
		sessions: make(map[string]*session),
		commands: nil,
		headers:  nil,
		rejects:  0,
		total:    0,
	}
}

// Start starts the mock server on the given address.
// If address is empty or ":0", a random available port is used.
func (s *MockFeedServer) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listener = listener

	router := mux.NewRouter()
	router.HandleFunc(BasePath+"{feed:marketdata|quotes}/", s.handleWebSocket)

	s.httpServer = &http.Server{ //nolint:exhaustruct // defaults are fine for tests
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Stop closes every session and shuts the server down.
func (s *MockFeedServer) Stop() error {
	s.DropConnections()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Address returns the address the server is listening on.
func (s *MockFeedServer) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// WebSocketURL returns the streaming base URL, suitable for Config.BaseURL.
func (s *MockFeedServer) WebSocketURL() string {
	return "ws://" + s.Address() + BasePath
}

// RejectNext makes the next n connection attempts fail with 503.
func (s *MockFeedServer) RejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejects = n
}

// Connections returns the number of accepted connections since start.
func (s *MockFeedServer) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.total
}

// ActiveSessions returns the number of live connections.
func (s *MockFeedServer) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// Commands returns every command received so far.
func (s *MockFeedServer) Commands() []Command {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.commands)
}

// LastHeader returns the handshake headers of the most recent connection attempt.
func (s *MockFeedServer) LastHeader() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.headers) == 0 {
		return nil
	}

	return s.headers[len(s.headers)-1]
}

// Subscriptions returns the instruments subscribed on the live sessions,
// merged across sessions.
func (s *MockFeedServer) Subscriptions() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make(map[string]string)
	for _, sess := range s.sessions {
		for isin, specifier := range sess.subs {
			subs[isin] = specifier
		}
	}

	return subs
}

// Push sends a raw frame to every live session.
func (s *MockFeedServer) Push(frame []byte) {
	for _, sess := range s.liveSessions() {
		_ = sess.write(frame)
	}
}

// DropConnections closes every live session without a close handshake.
func (s *MockFeedServer) DropConnections() {
	for _, sess := range s.liveSessions() {
		_ = sess.conn.Close()
	}
}

func (s *MockFeedServer) liveSessions() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}

	return sessions
}

func (s *MockFeedServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	feed := mux.Vars(r)["feed"]

	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	reject := s.rejects > 0
	if reject {
		s.rejects--
	}
	s.mu.Unlock()

	if reject {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)

		return
	}

	if s.config.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.config.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		feed:    feed,
		conn:    conn,
		writeMu: sync.Mutex{},
		subs:    make(map[string]string),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.total++
	s.mu.Unlock()

	defer func() {
		close(sess.done)

		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()

		conn.Close()
	}()

	if s.config.StreamInterval > 0 {
		go s.streamFrames(sess)
	}

	s.readCommands(sess)
}

// readCommands applies client commands until the connection goes away.
func (s *MockFeedServer) readCommands(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = sess.write(mocks.ErrorFrame("invalid command"))

			continue
		}

		cmd.SessionID = sess.id
		cmd.Feed = sess.feed

		s.mu.Lock()
		s.commands = append(s.commands, cmd)

		switch cmd.Action {
		case "subscribe":
			sess.subs[cmd.Value] = cmd.Specifier
		case "unsubscribe":
			delete(sess.subs, cmd.Value)
		}
		s.mu.Unlock()
	}
}

// streamFrames pushes generated frames for the session's subscriptions.
func (s *MockFeedServer) streamFrames(sess *session) {
	ticker := time.NewTicker(s.config.StreamInterval)
	defer ticker.Stop()

	generator := mocks.NewFrameGenerator(s.config.Seed)
	generated := make(map[string][][]byte)
	index := make(map[string]int)

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			isins := make([]string, 0, len(sess.subs))
			for isin := range sess.subs {
				isins = append(isins, isin)
			}
			s.mu.RUnlock()

			for _, isin := range isins {
				frames, ok := generated[isin]
				if !ok {
					config := mocks.DefaultConfig()
					config.ISIN = isin
					config.StartTime = time.Now().UTC()

					if sess.feed == "quotes" {
						frames = mocks.Encode(generator.Quotes(config))
					} else {
						frames = mocks.Encode(generator.Trades(config))
					}

					generated[isin] = frames
				}

				if err := sess.write(frames[index[isin]%len(frames)]); err != nil {
					return
				}

				index[isin]++
			}
		}
	}
}

func (sess *session) write(frame []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	return sess.conn.WriteMessage(websocket.TextMessage, frame)
}
