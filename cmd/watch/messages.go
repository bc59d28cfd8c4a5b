package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rxtech-lab/argo-stream/pkg/stream"
)

// StreamMsg carries a decoded message from the stream.
type StreamMsg struct {
	Session int
	Message stream.Message
}

// StreamErrorMsg reports a fault observed by the stream or a failure to start it.
type StreamErrorMsg struct {
	Session int
	Err     error
}

// StreamStartedMsg signals that the stream is running and subscribed.
type StreamStartedMsg struct {
	Session int
	Stream  *stream.Stream
	Events  <-chan tea.Msg
}

// StreamStoppedMsg signals that the stream worker has exited.
type StreamStoppedMsg struct {
	Session int
	Err     error
}
