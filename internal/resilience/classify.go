package resilience

import (
	"context"
	"errors"
)

// Kind is the failure taxonomy surfaced to callers.
type Kind string

// Failure kinds.
const (
	KindNone           Kind = ""
	KindTransient      Kind = "transient"
	KindPermanent      Kind = "permanent"
	KindMalformed      Kind = "malformed_payload"
	KindNonStructured  Kind = "non_structured"
	KindCanceled       Kind = "canceled"
	KindCircuitOpen    Kind = "circuit_open"
	KindNotFound       Kind = "not_found"
	KindAuthentication Kind = "authentication"
)

// Classify maps err onto a Kind. Unknown errors are permanent: only failures
// positively identified as transient are worth retrying.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var ne *NonStructuredResponseError
	if errors.As(err, &ne) {
		return KindNonStructured
	}
	var me *MalformedPayloadError
	if errors.As(err, &me) {
		return KindMalformed
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		switch {
		case pe.IsAuthFailure():
			return KindAuthentication
		case pe.IsNotFound():
			return KindNotFound
		}
		return KindPermanent
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindPermanent
}

// PreviewOf extracts the body preview carried by a response error, if any.
func PreviewOf(err error) string {
	var ne *NonStructuredResponseError
	if errors.As(err, &ne) {
		return ne.Preview
	}
	var me *MalformedPayloadError
	if errors.As(err, &me) {
		return me.Preview
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Preview
	}
	return ""
}
