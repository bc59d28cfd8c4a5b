package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidSpecifier     ErrorCode = 102
	ErrCodeInvalidCallback      ErrorCode = 103
	ErrCodeInvalidInstrument    ErrorCode = 104
	ErrCodeInvalidFeed          ErrorCode = 105

	// Transport errors (200-299)
	ErrCodeTransportConnect ErrorCode = 200
	ErrCodeTransportSend    ErrorCode = 201
	ErrCodeTransportReceive ErrorCode = 202

	// Decode errors (300-399)
	ErrCodeMalformedFrame ErrorCode = 300
	ErrCodeFeedError      ErrorCode = 301

	// Lifecycle errors (400-499)
	ErrCodeStopTimeout   ErrorCode = 400
	ErrCodeStreamStopped ErrorCode = 401

	// Callback errors (800-899)
	ErrCodeCallbackFailed ErrorCode = 800
)

// IsTransport reports whether the code belongs to the transport range.
func (c ErrorCode) IsTransport() bool {
	return c >= 200 && c < 300
}

// IsDecode reports whether the code belongs to the decode range.
func (c ErrorCode) IsDecode() bool {
	return c >= 300 && c < 400
}
