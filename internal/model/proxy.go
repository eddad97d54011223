// Package model defines shared types for the gateway.
package model

import (
	"net/http"
)

// OutboundRequest describes a single request to be sent to the backend.
// It is built once per inbound request and is not modified afterwards.
type OutboundRequest struct {
	Method    string
	TargetURL string
	// Query is the inbound query string flattened to one value per key.
	// When a key repeats, the last value wins.
	Query  map[string]string
	Body   []byte // nil when the inbound request had no body
	Header http.Header
}

// FailureKind classifies why an upstream call produced no usable response.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureConnectionRefused
	FailureTimeout
	FailureUpstreamErrorResponse
)

// String returns the label used in logs and metrics.
func (k FailureKind) String() string {
	switch k {
	case FailureConnectionRefused:
		return "connection_refused"
	case FailureTimeout:
		return "timeout"
	case FailureUpstreamErrorResponse:
		return "upstream_error_response"
	default:
		return "unknown"
	}
}

// Success carries a response the backend actually sent, whatever its status.
type Success struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Failure carries a classified upstream failure. StatusCode and Body are
// set only for FailureUpstreamErrorResponse.
type Failure struct {
	Kind       FailureKind
	Detail     string
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Outcome is the result of one upstream call. Exactly one of Success and
// Failure is non-nil.
type Outcome struct {
	Success *Success
	Failure *Failure
}

// Succeeded wraps s in an Outcome.
func Succeeded(s *Success) Outcome {
	return Outcome{Success: s}
}

// Failed wraps f in an Outcome.
func Failed(f *Failure) Outcome {
	return Outcome{Failure: f}
}
