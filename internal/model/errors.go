package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is a closed classification of provider failures. Callers branch
// on the kind instead of matching provider-specific messages.
type ErrorKind string

const (
	// KindRateLimit means the provider rejected the request due to quota.
	KindRateLimit ErrorKind = "rate_limit"
	// KindNetwork means a transient transport failure (timeout, reset, 5xx).
	KindNetwork ErrorKind = "network"
	// KindInvalid means the request itself was rejected and retrying is pointless.
	KindInvalid ErrorKind = "invalid"
	// KindUnknown is everything else.
	KindUnknown ErrorKind = "unknown"
)

// Error is a classified provider failure. Cause keeps the original SDK error
// reachable through errors.Is/As.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = "model error"
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError wraps cause with a kind. A nil cause yields a nil error.
func NewError(kind ErrorKind, message string, cause error) error {
	if cause == nil && strings.TrimSpace(message) == "" {
		return nil
	}
	if kind == "" {
		kind = KindUnknown
	}
	return &Error{Kind: kind, Message: strings.TrimSpace(message), Cause: cause}
}

// KindOf walks the wrap chain and returns the first classified kind. Errors
// that were never classified come back as KindUnknown.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) && me != nil {
		return me.Kind
	}
	return KindUnknown
}

// KindFromStatus maps an HTTP status code from a provider API to a kind.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindNetwork
	case status == 400 || status == 401 || status == 403 || status == 404 || status == 422:
		return KindInvalid
	default:
		return KindUnknown
	}
}

// RootMessage returns the innermost error message in the chain. Rate limit
// failures are reworded so end users see an actionable line instead of raw
// provider JSON.
func RootMessage(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindRateLimit {
		return "Rate limit exceeded. The task will be retried automatically."
	}
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	msg := strings.TrimSpace(root.Error())
	if strings.Contains(strings.ToLower(msg), "rate_limit") {
		return "Rate limit exceeded. The task will be retried automatically."
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
