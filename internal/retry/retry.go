package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

// IsTransient reports whether the same call may succeed if repeated later.
func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

// HTTPStatusError is implemented by errors that carry the status code of a
// completed HTTP exchange.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// Classify decides whether err is worth retrying. The reason string is
// stable and safe to use as a metric label.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		return classifyHTTPStatus(statusErr.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Decision{Class: ClassTransient, Reason: "net_timeout"}
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Decision{Class: ClassTransient, Reason: "dns"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyHTTPStatus(code int) Decision {
	switch {
	case code == 408 || code == 429:
		return Decision{Class: ClassTransient, Reason: "http_throttled"}
	case code >= 500:
		return Decision{Class: ClassTransient, Reason: "http_server_error"}
	default:
		return Decision{Class: ClassTerminal, Reason: "http_client_error"}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many requests",
	"rate limit",
	"no such host",
	"network is unreachable",
	"server closed idle connection",
	"eof",
}

var terminalMessageTokens = []string{
	"unsupported protocol scheme",
	"invalid url",
	"missing protocol scheme",
	"certificate",
}
