package classify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusCoder is implemented by response-shaped failures that carry an
// HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// validator is implemented by failures that represent rejected input.
type validator interface {
	Validation() bool
}

var networkMarkers = []string{
	"fetch",
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"unexpected eof",
}

var timeoutMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

// Classify maps a raw failure into a classified error. annotations are
// copied into the result's context alongside diagnostic fields.
// An already classified error keeps its kind, message and timestamp; when
// annotations are given a copy carrying them is returned.
func Classify(raw any, annotations map[string]any) *Error {
	if ce, ok := raw.(*Error); ok && ce != nil {
		return ce.WithContext(annotations)
	}

	ctx := make(map[string]any, len(annotations)+2)
	maps.Copy(ctx, annotations)

	if resp, ok := raw.(*http.Response); ok && resp != nil {
		ctx["error_type"] = "http.Response"
		return fromStatus(resp.StatusCode, resp.Status, ctx, nil)
	}

	err, ok := raw.(error)
	if !ok || err == nil {
		ctx["error_type"] = fmt.Sprintf("%T", raw)
		if raw != nil {
			ctx["value"] = fmt.Sprint(raw)
		}
		return newError(KindUnknown, "an unknown error occurred", 500, ctx, nil)
	}

	ctx["error_type"] = fmt.Sprintf("%T", err)
	msg := err.Error()

	var ce *Error
	if errors.As(err, &ce) {
		return ce.WithContext(annotations)
	}

	var sc StatusCoder
	hasStatus := errors.As(err, &sc)

	if !hasStatus {
		if isNetwork(err, msg) {
			return newError(KindNetwork, "network request failed: "+msg, 0, ctx, err)
		}
		if isTimeout(err, msg) {
			return newError(KindNetwork, "request timed out: "+msg, 408, ctx, err)
		}
	}

	if hasStatus {
		ctx["status_text"] = http.StatusText(sc.HTTPStatus())
		return fromStatus(sc.HTTPStatus(), msg, ctx, err)
	}

	var v validator
	if errors.As(err, &v) && v.Validation() {
		return newError(KindValidation, msg, 400, ctx, err)
	}

	if msg != "" {
		return newError(KindGeneric, msg, 500, ctx, err)
	}
	return newError(KindUnknown, "an unknown error occurred", 500, ctx, err)
}

func fromStatus(status int, msg string, ctx map[string]any, cause error) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized:
		return newError(KindAuth, msg, status, ctx, cause)
	case status == http.StatusNotFound:
		return newError(KindNotFound, msg, status, ctx, cause)
	case status >= 500:
		return newError(KindServer, msg, status, ctx, cause)
	default:
		return newError(KindNetwork, msg, status, ctx, cause)
	}
}

func isNetwork(err error, msg string) bool {
	if isTimeout(err, "") {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return containsAny(strings.ToLower(msg), networkMarkers)
}

func isTimeout(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return containsAny(strings.ToLower(msg), timeoutMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
