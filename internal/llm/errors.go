package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/openai/openai-go"
)

// Kind categorizes client errors for handling.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindUnavailable
	KindTimeout
	KindModelNotFound
	KindRejected
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindModelNotFound:
		return "model_not_found"
	case KindRejected:
		return "rejected"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is checks.
var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrModelTimeout     = errors.New("model timed out")
)

// ClientError is returned by Invoke when the model could not produce a
// response.
type ClientError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel errors by kind. A missing model counts as an
// unavailable model.
func (e *ClientError) Is(target error) bool {
	switch target {
	case ErrModelTimeout:
		return e.Kind == KindTimeout
	case ErrModelUnavailable:
		return e.Kind == KindUnavailable || e.Kind == KindModelNotFound
	}
	return false
}

// classify converts a transport or API error into a *ClientError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return &ClientError{Kind: KindModelNotFound, Message: "model not found", Cause: err}
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return &ClientError{Kind: KindTimeout, Message: "model request timed out", Cause: err}
		case apiErr.StatusCode >= 500:
			return &ClientError{Kind: KindUnavailable, Message: "model endpoint failed", Cause: err}
		default:
			return &ClientError{Kind: KindRejected, Message: "model endpoint rejected the request", Cause: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Kind: KindTimeout, Message: "model request timed out", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Kind: KindTimeout, Message: "model request timed out", Cause: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &ClientError{Kind: KindUnavailable, Message: "model endpoint is not running", Cause: err}
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return &ClientError{Kind: KindUnavailable, Message: "model endpoint unreachable", Cause: err}
	}

	return &ClientError{Kind: KindUnavailable, Message: "model request failed", Cause: err}
}
