package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/watchloop/pagewatch/internal/core"
)

func TestHTTPAgent_EnsureReadyThenExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div id="x">hello</div></body></html>`))
	}))
	defer srv.Close()

	a := NewHTTPAgent()
	ctx := context.Background()
	if err := a.EnsureReady(ctx, srv.URL); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !a.IsLoaded(ctx, srv.URL) {
		t.Fatalf("IsLoaded: expected true after fetch")
	}
	got, err := a.Extract(ctx, srv.URL, "#x", core.ContentModeMarkup)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "hello") {
		t.Fatalf("Extract: got %q, want content containing %q", got, "hello")
	}
}

func TestHTTPAgent_ExtractBeforeReady(t *testing.T) {
	a := NewHTTPAgent()
	_, err := a.Extract(context.Background(), "http://unfetched.example", "#x", core.ContentModeMarkup)
	if core.Code(err) != core.Code(core.ErrPageGone) {
		t.Fatalf("Extract before fetch: got %v, want ErrPageGone", err)
	}
}

func TestHTTPAgent_ElementNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div>no matching id</div></body></html>`))
	}))
	defer srv.Close()

	a := NewHTTPAgent()
	ctx := context.Background()
	if err := a.EnsureReady(ctx, srv.URL); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	_, err := a.Extract(ctx, srv.URL, "#missing", core.ContentModeMarkup)
	if core.Code(err) != core.Code(core.ErrElementNotFound) {
		t.Fatalf("Extract: got %v, want ErrElementNotFound", err)
	}
}

func TestHTTPAgent_RefreshFetchesAgain(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`<html><body><div id="x">v` + string(rune('0'+calls)) + `</div></body></html>`))
	}))
	defer srv.Close()

	a := NewHTTPAgent()
	ctx := context.Background()
	a.EnsureReady(ctx, srv.URL)
	a.Refresh(ctx, srv.URL)
	got, err := a.Extract(ctx, srv.URL, "#x", core.ContentModeMarkup)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "v2") {
		t.Fatalf("Refresh did not re-fetch: got %q, want content containing v2", got)
	}
	if calls != 2 {
		t.Fatalf("server received %d requests, want 2", calls)
	}
}

func TestHTTPAgent_CurrentURLUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	a := NewHTTPAgent()
	ctx := context.Background()
	a.EnsureReady(ctx, srv.URL)
	got, err := a.CurrentURL(ctx, srv.URL)
	if err != nil {
		t.Fatalf("CurrentURL: %v", err)
	}
	if got != srv.URL {
		t.Fatalf("CurrentURL: got %q, want %q", got, srv.URL)
	}
}
