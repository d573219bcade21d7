package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/watchloop/pagewatch/internal/core"
)

// navigateTimeout bounds how long a single navigate-and-load waits.
const navigateTimeout = 30 * time.Second

// Manager's tab registry treats page_ref as the target's normalized URL:
// the engine has no separate browser-extension layer supplying
// already-open tab handles, so EnsureReady lazily opens (and thereafter
// reuses) a headless tab navigated to page_ref.

// EnsureReady implements core.PageAgent. Idempotent: a healthy
// existing tab for pageRef is left untouched; an unhealthy or missing one
// is (re)opened and verified with a ping eval.
func (m *Manager) EnsureReady(ctx context.Context, pageRef string) error {
	if v, ok := m.tabs.Load(pageRef); ok {
		mt := v.(*managedTab)
		if ping(mt.page) {
			return nil
		}
		mt.page.Close()
		m.tabs.Delete(pageRef)
	}

	m.mu.Lock()
	err := m.openTabLocked(ctx, pageRef, pageRef)
	m.mu.Unlock()
	if err != nil {
		return core.ErrPageUnreachable.Wrap(err)
	}
	return nil
}

// openTabLocked assumes m.mu is held (or is being called before any
// concurrent access is possible, e.g. during recycle).
func (m *Manager) openTabLocked(ctx context.Context, pageRef, pageURL string) error {
	b := m.browser
	if b == nil {
		return fmt.Errorf("agent: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth == LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return fmt.Errorf("agent: create tab: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, m.cfg.ResourceBlocking); err != nil {
			m.cfg.Logger.Warn("agent: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return fmt.Errorf("agent: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("agent: wait load timeout", "url", pageURL, "error", err)
	}

	if !ping(page) {
		page.Close()
		return fmt.Errorf("agent: tab did not respond to ping after navigate")
	}

	m.tabs.Store(pageRef, &managedTab{page: page, pageURL: pageURL})
	return nil
}

func ping(page *rod.Page) bool {
	res, err := page.Eval(`() => 1`)
	return err == nil && res != nil
}

// CurrentURL implements core.PageAgent.
func (m *Manager) CurrentURL(ctx context.Context, pageRef string) (string, error) {
	mt, ok := m.loadTab(pageRef)
	if !ok {
		return "", core.ErrPageGone
	}
	info, err := mt.page.Context(ctx).Info()
	if err != nil {
		return "", core.ErrPageGone.Wrap(err)
	}
	return info.URL, nil
}

// Refresh implements core.PageAgent.
func (m *Manager) Refresh(ctx context.Context, pageRef string) error {
	mt, ok := m.loadTab(pageRef)
	if !ok {
		return core.ErrPageGone
	}
	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	if err := mt.page.Context(navCtx).Reload(); err != nil {
		return core.ErrPageGone.Wrap(err)
	}
	return nil
}

// IsLoaded implements core.PageAgent.
func (m *Manager) IsLoaded(ctx context.Context, pageRef string) bool {
	mt, ok := m.loadTab(pageRef)
	if !ok {
		return false
	}
	res, err := mt.page.Context(ctx).Eval(`() => document.readyState === "complete"`)
	return err == nil && res != nil && res.Value.Bool()
}

// Extract implements core.PageAgent.
func (m *Manager) Extract(ctx context.Context, pageRef, selector string, mode core.ContentMode) (string, error) {
	mt, ok := m.loadTab(pageRef)
	if !ok {
		return "", core.ErrPageGone
	}
	res, err := mt.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", core.ErrPageUnreachable.Wrap(err)
	}

	content, err := m.ext.extract(res.Value.Str(), selector, mt.pageURL, mode)
	if err != nil {
		if err == ErrNoMatch {
			return "", core.ErrElementNotFound
		}
		return "", core.ErrPageUnreachable.Wrap(err)
	}
	return content, nil
}

// ListPages implements pagewatch.PageLister: every page_ref with a live
// tab, mapped to its last-known URL, for restore-time URL matching.
func (m *Manager) ListPages(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	m.tabs.Range(func(k, v any) bool {
		out[k.(string)] = v.(*managedTab).pageURL
		return true
	})
	return out, nil
}

func (m *Manager) loadTab(pageRef string) (*managedTab, bool) {
	v, ok := m.tabs.Load(pageRef)
	if !ok {
		return nil, false
	}
	return v.(*managedTab), true
}
