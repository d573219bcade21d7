package pagewatch

import "github.com/watchloop/pagewatch/internal/core"

// Error is the engine's machine-codeable error type. Defined in
// internal/core so every internal/* leaf package can return and compare
// it without importing this root package (which itself depends on
// those leaves), then re-exported here for the public API.
type Error = core.Error

// Configuration errors (§7).
var (
	ErrInvalidSelector     = core.ErrInvalidSelector
	ErrInvalidInterval     = core.ErrInvalidInterval
	ErrInvalidWebhookURL   = core.ErrInvalidWebhookURL
	ErrInvalidPageURL      = core.ErrInvalidPageURL
	ErrNoWebhookConfigured = core.ErrNoWebhookConfigured
)

// Target errors.
var (
	ErrTargetNotFound       = core.ErrTargetNotFound
	ErrTargetAlreadyRunning = core.ErrTargetAlreadyRunning
)

// Page Agent errors.
var (
	ErrPageUnreachable  = core.ErrPageUnreachable
	ErrPageGone         = core.ErrPageGone
	ErrUnsupportedPage  = core.ErrUnsupportedPage
	ErrElementNotFound  = core.ErrElementNotFound
	ErrPageStillLoading = core.ErrPageStillLoading
)

// Extraction errors.
var (
	ErrContentTooShort               = core.ErrContentTooShort
	ErrContentContainsLoadingMarkers = core.ErrContentContainsLoadingMarkers
	ErrContentInsufficientLines      = core.ErrContentInsufficientLines
)

// Webhook errors.
var (
	ErrWebhookHTTPError    = core.ErrWebhookHTTPError
	ErrWebhookNetworkError = core.ErrWebhookNetworkError
	ErrWebhookTimeout      = core.ErrWebhookTimeout
)

// Internal errors.
var (
	ErrPersistence = core.ErrPersistence
	ErrCancelled   = core.ErrCancelled
)

// Code extracts the machine-readable code from err, or "" if err is nil
// or not one of this package's Errors.
func Code(err error) string { return core.Code(err) }
