// Package classify maps arbitrary step-handler failures into the retry
// taxonomy. Classification is pure and total: any input, including nil,
// yields a classification, and unknown failures default to retryable so an
// unrecognized error can never silently dead-letter an item.
package classify

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Type is the failure taxonomy.
type Type string

const (
	// TypeRateLimit is a throttling rejection; retryable with a longer
	// backoff than ordinary transient faults.
	TypeRateLimit Type = "rate_limit"
	// TypeRetryable is a transient infrastructure, server, or network fault.
	TypeRetryable Type = "retryable"
	// TypeTerminal is a client, auth, or validation fault. Never retried.
	TypeTerminal Type = "terminal"
)

// Classification is the routing decision for one failure.
type Classification struct {
	Type      Type
	Retryable bool
	// StatusCode is the HTTP-like status extracted from the error, 0 if none.
	StatusCode int
	// Reason is a short human-readable explanation for diagnostics.
	Reason string
}

// HTTPError is a failure from an HTTP-fronted step handler carrying the
// upstream status code. The agent client returns these for non-2xx
// responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("agent returned %d: %s", e.StatusCode, e.Message)
}

// normalized is the minimal shape classification rules operate on.
type normalized struct {
	message    string // lowercased
	statusCode int
}

func normalize(err error) normalized {
	if err == nil {
		return normalized{}
	}

	n := normalized{message: strings.ToLower(err.Error())}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		n.statusCode = httpErr.StatusCode
	}

	// Agents fronted by gRPC gateways surface grpc status errors; fold the
	// code into an HTTP-like status so one rule set covers both transports.
	if s, ok := status.FromError(err); ok && s.Code() != codes.OK && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.ResourceExhausted:
			n.statusCode = 429
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			n.statusCode = 503
		case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
			n.statusCode = 400
		case codes.Unauthenticated:
			n.statusCode = 401
		case codes.PermissionDenied:
			n.statusCode = 403
		case codes.NotFound:
			n.statusCode = 404
		}
	}

	return n
}

func isRateLimit(n normalized) bool {
	return n.statusCode == 429 ||
		strings.Contains(n.message, "rate limit") ||
		strings.Contains(n.message, "too many requests")
}

func isServerFault(n normalized) bool {
	return n.statusCode >= 500 && n.statusCode < 600
}

func isTransportFault(n normalized) bool {
	for _, pat := range []string{
		"timeout", "timed out", "connection reset", "connection refused",
		"no such host", "network", "econnreset", "econnrefused", "enotfound",
		"etimedout",
	} {
		if strings.Contains(n.message, pat) {
			return true
		}
	}
	return false
}

func isClientFault(n normalized) bool {
	return n.statusCode >= 400 && n.statusCode < 500 && n.statusCode != 429
}

func isRequestFault(n normalized) bool {
	for _, pat := range []string{
		"unauthorized", "forbidden", "authentication", "validation",
		"invalid", "malformed",
	} {
		if strings.Contains(n.message, pat) {
			return true
		}
	}
	return false
}

// Classify maps a failure to its taxonomy entry. Rules apply in priority
// order; the first match wins.
func Classify(err error) Classification {
	n := normalize(err)

	switch {
	case isRateLimit(n):
		return Classification{Type: TypeRateLimit, Retryable: true, StatusCode: n.statusCode, Reason: "rate limit exceeded"}
	case isServerFault(n):
		return Classification{Type: TypeRetryable, Retryable: true, StatusCode: n.statusCode, Reason: fmt.Sprintf("server error (%d)", n.statusCode)}
	case isTransportFault(n):
		return Classification{Type: TypeRetryable, Retryable: true, StatusCode: n.statusCode, Reason: "transient network fault"}
	case isClientFault(n):
		return Classification{Type: TypeTerminal, Retryable: false, StatusCode: n.statusCode, Reason: fmt.Sprintf("client error (%d)", n.statusCode)}
	case isRequestFault(n):
		return Classification{Type: TypeTerminal, Retryable: false, StatusCode: n.statusCode, Reason: "validation or auth fault"}
	default:
		return Classification{Type: TypeRetryable, Retryable: true, StatusCode: n.statusCode, Reason: "unknown failure, defaulting to retryable"}
	}
}
