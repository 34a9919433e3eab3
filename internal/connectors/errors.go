package connectors

import (
	"fmt"
	"strings"
)

// ConnectionErrorReason classifies a transport-level failure.
type ConnectionErrorReason string

const (
	ReasonAuthRejected      ConnectionErrorReason = "auth_rejected"
	ReasonUnreachable       ConnectionErrorReason = "unreachable"
	ReasonProtocolViolation ConnectionErrorReason = "protocol_violation"
)

// ConnectionError is surfaced to the orchestrator when a connection ends in Errored.
type ConnectionError struct {
	Reason ConnectionErrorReason
	// Detail is the server-provided error code, when there was one.
	Detail string
	Err    error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString("connection error: ")
	b.WriteString(string(e.Reason))
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
