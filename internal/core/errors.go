package core

import "errors"

// Error is a machine-codeable error: every failure the engine returns to a
// caller (as opposed to ones it only logs) carries a stable Code alongside
// the usual wrapped message.
type Error struct {
	code    string
	message string
	cause   error
}

func newError(code, message string) *Error {
	return &Error{code: code, message: message}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the stable machine-readable error code.
func (e *Error) Code() string { return e.code }

func (e *Error) withCause(err error) *Error {
	n := *e
	n.cause = err
	return &n
}

// Wrap returns a copy of e with err attached as its cause, for
// constructing a tagged error from a lower-level failure while
// preserving e's Code.
func (e *Error) Wrap(err error) *Error {
	return e.withCause(err)
}

// Configuration errors (§7).
var (
	ErrInvalidSelector   = newError("invalid_selector", "selector must not be empty")
	ErrInvalidInterval   = newError("invalid_interval", "interval must be at least 5s")
	ErrInvalidWebhookURL = newError("invalid_webhook_url", "webhook_override must be an absolute http(s) URL")
	ErrInvalidPageURL    = newError("invalid_page_url", "initial_url must be an absolute http(s) URL")
	ErrNoWebhookConfigured = newError("no_webhook_configured", "no webhook URL is configured")
)

// Target errors.
var (
	ErrTargetNotFound       = newError("target_not_found", "target not found")
	ErrTargetAlreadyRunning = newError("target_already_running", "target already running for this page_ref")
)

// Page Agent errors.
var (
	ErrPageUnreachable  = newError("page_unreachable", "page agent unreachable")
	ErrPageGone         = newError("page_gone", "page no longer exists")
	ErrUnsupportedPage  = newError("unsupported_page", "page URL scheme is not http/https")
	ErrElementNotFound  = newError("element_not_found", "selector matched no element")
	ErrPageStillLoading = newError("page_still_loading", "page did not become ready in time")
)

// Extraction errors.
var (
	ErrContentTooShort             = newError("content_too_short", "extracted content shorter than minimum length")
	ErrContentContainsLoadingMarkers = newError("content_contains_loading_markers", "extracted content looks like a loading placeholder")
	ErrContentInsufficientLines     = newError("content_insufficient_lines", "text-mode content has too few non-empty lines")
)

// Webhook errors.
var (
	ErrWebhookHTTPError    = newError("webhook_http_error", "webhook endpoint returned a non-2xx status")
	ErrWebhookNetworkError = newError("webhook_network_error", "webhook request failed")
	ErrWebhookTimeout      = newError("webhook_timeout", "webhook request timed out")
)

// Internal errors.
var (
	ErrPersistence = newError("persistence_error", "persistence operation failed")
	ErrCancelled   = newError("cancelled", "operation was cancelled")
)

// Code extracts the machine-readable code from err, or "" if err is nil or
// not one of this package's Errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}
