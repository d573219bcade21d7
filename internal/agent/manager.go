// Package agent implements the Page Agent the core consumes (spec §4.3):
// a headless-Chrome-backed implementation built on rod, plus a plain-HTTP
// fallback for targets that need no JavaScript execution.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel controls how aggressively the manager disguises
// automation when opening tabs.
type StealthLevel int

const (
	LevelHTTP     StealthLevel = 0 // rod headless, plain tab without stealth
	LevelHeadless StealthLevel = 1 // rod headless + stealth
)

// ManagerConfig configures the Chrome manager.
type ManagerConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless-shell Chrome via launcher.
	RemoteURL string

	// MemoryLimit in bytes. Recycle Chrome when the first tab's JS heap
	// exceeds it. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is Chrome's maximum lifetime before a forced
	// restart. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types new tabs should block
	// (images, fonts, media, stylesheets).
	ResourceBlocking []string

	Stealth StealthLevel
	Logger  *slog.Logger
}

func (c *ManagerConfig) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process lifecycle and the registry of tabs
// opened per page_ref. It recycles Chrome on a time or memory threshold,
// tearing down and transparently reopening every live tab so in-flight
// targets keep working across a recycle (spec's Supplemental "browser
// recycling" feature).
type Manager struct {
	cfg     ManagerConfig
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool

	tabs sync.Map // pageRef (string) -> *managedTab
	ext  *extractor
}

type managedTab struct {
	page    *rod.Page
	pageURL string
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, ext: newExtractor()}
}

// Start launches (or connects to) Chrome and begins the recycle monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("agent: manager is closed")
	}
	b, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()
	go m.monitorLoop(ctx)
	return nil
}

// Close shuts down Chrome and every open tab.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) browserHandle() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("agent: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("agent: launch chrome: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("agent: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("agent: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("agent: ignore cert errors failed", "error", err)
	}
	return b, nil
}

// recycle tears down Chrome and every tab, then relaunches and reopens
// each previously-live page_ref at its last known URL.
func (m *Manager) recycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("agent: manager is closed")
	}
	log := m.cfg.Logger
	log.Info("agent: recycling chrome", "uptime", time.Since(m.startAt))

	type survivor struct {
		pageRef string
		url     string
	}
	var survivors []survivor
	m.tabs.Range(func(k, v any) bool {
		mt := v.(*managedTab)
		survivors = append(survivors, survivor{pageRef: k.(string), url: mt.pageURL})
		return true
	})

	if err := m.cleanup(); err != nil {
		log.Warn("agent: cleanup during recycle failed", "error", err)
	}

	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("agent: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()

	for _, s := range survivors {
		if err := m.openTabLocked(ctx, s.pageRef, s.url); err != nil {
			log.Warn("agent: reopen tab after recycle failed", "page_ref", s.pageRef, "error", err)
		}
	}
	log.Info("agent: recycled chrome successfully")
	return nil
}

func (m *Manager) cleanup() error {
	m.tabs.Range(func(k, v any) bool {
		v.(*managedTab).page.Close()
		m.tabs.Delete(k)
		return true
	})
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			closed, startAt, b := m.closed, m.startAt, m.browser
			m.mu.RUnlock()
			if closed || b == nil {
				return
			}

			if time.Since(startAt) > m.cfg.RecycleInterval {
				log.Info("agent: recycle interval reached")
				if err := m.recycle(ctx); err != nil {
					log.Error("agent: recycle failed", "error", err)
				}
				continue
			}

			used, err := jsHeapUsage(b)
			if err != nil {
				log.Debug("agent: heap check failed", "error", err)
				continue
			}
			if used > m.cfg.MemoryLimit {
				log.Info("agent: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
				if err := m.recycle(ctx); err != nil {
					log.Error("agent: recycle failed", "error", err)
				}
			}
		}
	}
}

func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("agent: no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
