package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// PreviewLimit bounds the body preview carried by response errors.
const PreviewLimit = 500

// TransientError wraps a failure that may succeed on retry: connection
// refused/reset, timeouts, 5xx and rate-limit responses. When retries are
// exhausted the last TransientError is surfaced with Attempts set.
type TransientError struct {
	Err        error
	StatusCode int
	Attempts   int
}

func (e *TransientError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s (after %d attempts)", e.Err.Error(), e.Attempts)
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError is a request-shape or authorization failure that retrying
// cannot fix (4xx other than rate limiting).
type PermanentError struct {
	Err        error
	StatusCode int
	Preview    string
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as permanent.
func NewPermanentError(err error, statusCode int, body []byte) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode, Preview: Preview(body)}
}

// IsAuthFailure reports whether the failure is a 401 or 403.
func (e *PermanentError) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsNotFound reports whether the failure is a 404.
func (e *PermanentError) IsNotFound() bool {
	return e.StatusCode == 404
}

// MalformedPayloadError means the response declared a structured content type
// but its body did not decode.
type MalformedPayloadError struct {
	Err         error
	ContentType string
	Preview     string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %v", e.ContentType, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// NonStructuredResponseError means the response body is not machine
// readable (typically an HTML login or error page). It is never decoded.
type NonStructuredResponseError struct {
	StatusCode  int
	ContentType string
	Preview     string
}

// NonStructuredGuidance explains the usual causes of an HTML response.
const NonStructuredGuidance = "the tracker returned a non-JSON page; this usually means " +
	"authentication failed (check the access token), the base URL is wrong, " +
	"or the token lacks permission for this resource"

func (e *NonStructuredResponseError) Error() string {
	ct := e.ContentType
	if ct == "" {
		ct = "no content type"
	}
	return fmt.Sprintf("non-structured response (%s, status %d): %s", ct, e.StatusCode, NonStructuredGuidance)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Typed classifications win over string heuristics below.
	var pe *PermanentError
	var me *MalformedPayloadError
	var ne *NonStructuredResponseError
	if errors.As(err, &pe) || errors.As(err, &me) || errors.As(err, &ne) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsConnectionLevel reports whether err came from the transport rather than
// from an HTTP response, which signals a possibly stale connection.
func IsConnectionLevel(err error) bool {
	var te *TransientError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return false
	}
	return IsTransient(err)
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429: // Too Many Requests
		return true
	default:
		return statusCode >= 500 && statusCode <= 599
	}
}

// Preview returns at most PreviewLimit bytes of body as trimmed text.
func Preview(body []byte) string {
	if len(body) > PreviewLimit {
		body = body[:PreviewLimit]
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(body), ""))
}
