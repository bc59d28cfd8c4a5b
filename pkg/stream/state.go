package stream

// WorkerState is the lifecycle state of the connection worker.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateReconnecting
	StateTerminated
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stats counts worker activity since Start.
type Stats struct {
	Connections       int64 // successful connects
	Reconnects        int64 // connections torn down while the stream was still alive
	Delivered         int64 // messages handed to the callback
	Dropped           int64 // messages discarded by the frequency limit
	DecodeFailures    int64 // malformed frames and feed errors
	TransportFailures int64 // connect, send and receive failures
	CallbackFailures  int64 // callback errors and panics
}
