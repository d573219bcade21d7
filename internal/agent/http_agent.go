package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/watchloop/pagewatch/internal/core"
)

// fetchTimeout bounds a single HTTP fetch.
const fetchTimeout = 20 * time.Second

// HTTPAgent is a PageAgent that plain-fetches a page over HTTP with no
// JavaScript execution — the engine's HTTPFallback fast path for targets
// whose content doesn't depend on client-side rendering (Supplemental
// feature; see SPEC_FULL.md). page_ref is the target's URL.
type HTTPAgent struct {
	client *http.Client
	ext    *extractor

	mu    sync.Mutex
	pages map[string]string // pageRef -> last-fetched body
}

// NewHTTPAgent creates an HTTPAgent with a default 20s client timeout.
func NewHTTPAgent() *HTTPAgent {
	return &HTTPAgent{
		client: &http.Client{Timeout: fetchTimeout},
		ext:    newExtractor(),
		pages:  make(map[string]string),
	}
}

// EnsureReady fetches pageRef if it hasn't been fetched yet this run.
func (a *HTTPAgent) EnsureReady(ctx context.Context, pageRef string) error {
	a.mu.Lock()
	_, known := a.pages[pageRef]
	a.mu.Unlock()
	if known {
		return nil
	}
	return a.Refresh(ctx, pageRef)
}

// CurrentURL returns pageRef unchanged — the HTTP agent never navigates
// away from the URL it was told to fetch.
func (a *HTTPAgent) CurrentURL(ctx context.Context, pageRef string) (string, error) {
	a.mu.Lock()
	_, known := a.pages[pageRef]
	a.mu.Unlock()
	if !known {
		return "", core.ErrPageGone
	}
	return pageRef, nil
}

// Refresh re-fetches pageRef over HTTP.
func (a *HTTPAgent) Refresh(ctx context.Context, pageRef string) error {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageRef, nil)
	if err != nil {
		return core.ErrPageGone.Wrap(err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return core.ErrPageUnreachable.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return core.ErrPageUnreachable.Wrap(fmt.Errorf("http status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.ErrPageUnreachable.Wrap(err)
	}

	a.mu.Lock()
	a.pages[pageRef] = string(body)
	a.mu.Unlock()
	return nil
}

// IsLoaded is always true once a fetch has completed — there is no
// client-side rendering to wait for.
func (a *HTTPAgent) IsLoaded(ctx context.Context, pageRef string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, known := a.pages[pageRef]
	return known
}

// ListPages implements pagewatch.PageLister. Since page_ref is always the
// fetched URL itself for this agent, it maps trivially to itself.
func (a *HTTPAgent) ListPages(ctx context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.pages))
	for ref := range a.pages {
		out[ref] = ref
	}
	return out, nil
}

// Extract parses the last-fetched body and renders the selector match.
func (a *HTTPAgent) Extract(ctx context.Context, pageRef, selector string, mode core.ContentMode) (string, error) {
	a.mu.Lock()
	body, known := a.pages[pageRef]
	a.mu.Unlock()
	if !known {
		return "", core.ErrPageGone
	}

	content, err := a.ext.extract(body, selector, pageRef, mode)
	if err != nil {
		if err == ErrNoMatch {
			return "", core.ErrElementNotFound
		}
		return "", core.ErrPageUnreachable.Wrap(err)
	}
	return content, nil
}
