// Package webhook implements the Webhook Dispatcher (spec §4.4):
// effective-URL resolution, payload construction, and a single
// fire-and-forget HTTP POST with no dispatch-level retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Timeout is the default per-request timeout (spec §5).
const Timeout = 30 * time.Second

// unconfiguredSentinel is a placeholder value treated as "no webhook
// configured" even though it happens to parse as a string (spec §4.4).
const unconfiguredSentinel = "YOUR_WEBHOOK_URL"

// Payload is the exact wire shape POSTed to the effective webhook URL
// (spec §4.4).
type Payload struct {
	Type           string   `json:"type"`
	Timestamp      string   `json:"timestamp"`
	URL            string   `json:"url"`
	Content        string   `json:"content"`
	Selector       string   `json:"selector"`
	ChangeDetected bool     `json:"changeDetected"`
	Metadata       Metadata `json:"metadata"`
}

// Metadata is the payload's nested metadata object.
type Metadata struct {
	RefreshInterval int64  `json:"refreshInterval"`
	TabID           *int64 `json:"tabId,omitempty"`
	WebhookURL      string `json:"webhookUrl"`
}

// Dispatcher resolves the effective webhook URL and POSTs payloads with a
// fixed timeout and no retries — repeated failures are left to the
// Failure Tracker across subsequent cycles (spec §4.4, §4.5).
type Dispatcher struct {
	client *http.Client
}

// New creates a Dispatcher with the default 30s client timeout.
func New() *Dispatcher {
	return &Dispatcher{client: &http.Client{Timeout: Timeout}}
}

// NewWithClient lets callers (tests, or an agent wanting its own
// transport) supply an *http.Client directly.
func NewWithClient(client *http.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// ResolveEffectiveWebhook applies the §4.4 precedence: explicit override,
// then the target's webhook_override, then the global default. Returns
// "", false if none is well-formed.
func ResolveEffectiveWebhook(explicitOverride, targetOverride, globalDefault string) (string, bool) {
	for _, candidate := range []string{explicitOverride, targetOverride, globalDefault} {
		if isWellFormed(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isWellFormed(raw string) bool {
	if raw == "" || raw == unconfiguredSentinel {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// Outcome describes the result of a single dispatch attempt.
type Outcome struct {
	Success      bool
	StatusCode   int // 0 if a transport error occurred before a response arrived
	ErrorClass   string
	ContentBytes int
}

// Dispatch POSTs the payload to url with the dispatcher's timeout applied
// on top of ctx. No redirects are followed beyond the client's defaults,
// and no retry is attempted regardless of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, targetURL string, payload Payload) (Outcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		class := "network_error"
		if reqCtx.Err() != nil {
			class = "timeout"
		}
		return Outcome{Success: false, ErrorClass: class}, err
	}
	defer resp.Body.Close()

	outcome := Outcome{
		StatusCode:   resp.StatusCode,
		ContentBytes: len(body),
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if !outcome.Success {
		outcome.ErrorClass = "http_error"
	}
	return outcome, nil
}

// NewPayload builds the exact §4.4 wire payload. tabID is nil when
// page_ref does not render as an integer.
func NewPayload(pageURL, content, selector string, changeDetected bool, refreshInterval time.Duration, tabID *int64, effectiveWebhookURL string, now time.Time) Payload {
	return Payload{
		Type:           "page_monitor",
		Timestamp:      now.UTC().Format(time.RFC3339),
		URL:            pageURL,
		Content:        content,
		Selector:       selector,
		ChangeDetected: changeDetected,
		Metadata: Metadata{
			RefreshInterval: refreshInterval.Milliseconds(),
			TabID:           tabID,
			WebhookURL:      effectiveWebhookURL,
		},
	}
}

// ParseTabID attempts to render an opaque page_ref as an integer tab id,
// per the payload's optional metadata.tabId field.
func ParseTabID(pageRef string) *int64 {
	n, err := strconv.ParseInt(pageRef, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
