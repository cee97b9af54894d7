// Package protocol implements the wire framing for the realtime engine:
// parsing inbound JSON frames into typed messages and serializing outbound
// frames. The codec is stateless; framing itself is the transport's job.
package protocol

// ErrorKind is the closed set of error codes the engine ever reports to a
// client. Every response "error" frame carries exactly one of these.
type ErrorKind string

const (
	ErrParse               ErrorKind = "PARSE_ERROR"
	ErrInvalidRequest      ErrorKind = "INVALID_REQUEST"
	ErrUnauthorized        ErrorKind = "UNAUTHORIZED"
	ErrForbidden           ErrorKind = "FORBIDDEN"
	ErrNotFound            ErrorKind = "NOT_FOUND"
	ErrRateLimited         ErrorKind = "RATE_LIMITED"
	ErrUnknownOperation    ErrorKind = "UNKNOWN_OPERATION"
	ErrRulesNotAvailable   ErrorKind = "RULES_NOT_AVAILABLE"
	ErrInternal            ErrorKind = "INTERNAL_ERROR"
	ErrValidation          ErrorKind = "VALIDATION_ERROR"
	ErrConflict            ErrorKind = "CONFLICT"
	ErrTimeout             ErrorKind = "TIMEOUT"
	ErrBackpressureDropped ErrorKind = "BACKPRESSURE_DROPPED"
	ErrSessionExpired      ErrorKind = "SESSION_EXPIRED"
	ErrBufferOverflow      ErrorKind = "BUFFER_OVERFLOW"
)
