package pagewatch

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watchloop/pagewatch/internal/activitylog"
	"github.com/watchloop/pagewatch/internal/core"
	"github.com/watchloop/pagewatch/internal/failure"
	"github.com/watchloop/pagewatch/internal/idgen"
	"github.com/watchloop/pagewatch/internal/pipeline"
	"github.com/watchloop/pagewatch/internal/store"
	"github.com/watchloop/pagewatch/internal/webhook"
)

// PageLister is an optional PageAgent capability: enumerate the pages the
// agent currently knows about, keyed by page_ref with their live URL as
// the value. restore_from_store (spec §4.1) uses it to re-bind persisted
// targets to whatever page_ref now serves the same normalized URL. An
// agent that doesn't implement it (restore then treats every persisted
// page_ref as still reachable and lets EnsureReady's own error path
// decide whether that's true).
type PageLister interface {
	ListPages(ctx context.Context) (map[string]string, error)
}

// Supervisor is the Watch Supervisor (spec §4.1): the authoritative
// owner of every live Target's lifecycle. It is the only writer of the
// Config Store's targets table and the only caller of the Failure
// Tracker's stop path.
type Supervisor struct {
	agent      core.PageAgent
	store      *store.Store
	log        *activitylog.Log
	dispatcher *webhook.Dispatcher
	tracker    *failure.Tracker
	idGen      idgen.Generator
	now        func() time.Time

	mu      sync.Mutex
	running map[core.TargetID]*runningTarget

	globalMu sync.RWMutex
	global   globalDefaults
}

type globalDefaults struct {
	webhookURL      string
	refreshInterval time.Duration
	changeDetection bool
}

// runningTarget is the Supervisor's live handle on one actively scheduled
// target: its current config/state (read and mutated only by its own
// cycle task, per spec §5), a cancellable context for stop/shutdown, and
// the at-most-one-in-flight latch.
type runningTarget struct {
	mu     sync.Mutex
	target core.Target

	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Bool
}

// SupervisorOption configures a Supervisor at construction time.
type SupervisorOption func(*Supervisor)

// WithDispatcher overrides the default webhook.New() dispatcher — used by
// tests to inject a client pointed at an httptest.Server.
func WithDispatcher(d *webhook.Dispatcher) SupervisorOption {
	return func(s *Supervisor) { s.dispatcher = d }
}

// WithIDGenerator overrides the default UUIDv7 TargetID generator.
func WithIDGenerator(g idgen.Generator) SupervisorOption {
	return func(s *Supervisor) { s.idGen = g }
}

// WithFailureThreshold overrides the default 5-failure auto-stop
// threshold (spec §4.5).
func WithFailureThreshold(n int) SupervisorOption {
	return func(s *Supervisor) {
		s.tracker = failure.New(n, s.autoStop)
	}
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.now = now }
}

// NewSupervisor creates a Supervisor. agentImpl, st and log are shared,
// non-owning handles (spec §3): the Supervisor does not construct or
// close them.
func NewSupervisor(st *store.Store, agentImpl core.PageAgent, log *activitylog.Log, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		agent:   agentImpl,
		store:   st,
		log:     log,
		idGen:   idgen.Default,
		now:     time.Now,
		running: make(map[core.TargetID]*runningTarget),
		global:  globalDefaults{changeDetection: true, refreshInterval: 60 * time.Second},
	}
	s.dispatcher = webhook.New()
	s.tracker = failure.New(failure.DefaultThreshold, s.autoStop)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Agent returns the Page Agent this Supervisor drives cycles against —
// exposed so the Command/Query API can share it for send_now.
func (s *Supervisor) Agent() core.PageAgent { return s.agent }

// Dispatcher returns the Webhook Dispatcher this Supervisor uses —
// shared with the Command/Query API's send_now path.
func (s *Supervisor) Dispatcher() *webhook.Dispatcher { return s.dispatcher }

// Tracker returns the Failure Tracker, shared with the Command/Query
// API's clear_activity_log path (spec §4.6: clear resets all counters).
func (s *Supervisor) Tracker() *failure.Tracker { return s.tracker }

// CurrentGlobalWebhook returns the cached global default webhook URL
// (spec §4.4 precedence's lowest tier).
func (s *Supervisor) CurrentGlobalWebhook() string {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	return s.global.webhookURL
}

// ReloadGlobalConfig re-reads global_config from the Config Store into
// the Supervisor's in-memory cache. Safe to call from internal/reload's
// change-detection loop, or once at process start.
func (s *Supervisor) ReloadGlobalConfig(ctx context.Context) error {
	webhookURL, _, err := s.store.Global(ctx, store.GlobalWebhookURL)
	if err != nil {
		return core.ErrPersistence.Wrap(err)
	}
	intervalStr, intervalOK, err := s.store.Global(ctx, store.GlobalRefreshIntervalMs)
	if err != nil {
		return core.ErrPersistence.Wrap(err)
	}
	changeStr, changeOK, err := s.store.Global(ctx, store.GlobalChangeDetection)
	if err != nil {
		return core.ErrPersistence.Wrap(err)
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	s.global.webhookURL = webhookURL
	if intervalOK {
		if ms, perr := strconv.ParseInt(intervalStr, 10, 64); perr == nil && ms > 0 {
			s.global.refreshInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if changeOK {
		s.global.changeDetection = changeStr == "1" || changeStr == "true"
	}
	return nil
}

// GlobalDefaults returns the cached refresh interval and change-detection
// default, used to fill in a TargetConfig's zero-value fields.
func (s *Supervisor) GlobalDefaults() (interval time.Duration, changeDetection bool) {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	return s.global.refreshInterval, s.global.changeDetection
}

// StartTarget validates cfg, persists it, and schedules it (spec §4.1).
// If a target is already running for the same page_ref, it is stopped
// first.
func (s *Supervisor) StartTarget(ctx context.Context, cfg core.TargetConfig) (core.TargetID, error) {
	if cfg.ContentMode == "" {
		cfg.ContentMode = core.ContentModeMarkup
	}
	if err := cfg.Validate(); err != nil {
		s.logAppend(ctx, "error", "system", "start_target rejected", "", cfg.InitialURL, map[string]any{"code": core.Code(err)})
		return "", err
	}

	if existing, ok := s.findByPageRef(cfg.PageRef); ok {
		_ = s.StopTarget(ctx, existing)
	}

	id := core.TargetID(s.idGen())
	target := core.Target{
		ID:              id,
		PageRef:         cfg.PageRef,
		InitialURL:      cfg.InitialURL,
		Selector:        cfg.Selector,
		ContentMode:     cfg.ContentMode,
		Interval:        cfg.Interval,
		ChangeDetection: cfg.ChangeDetection,
		WebhookOverride: cfg.WebhookOverride,
		ProfileName:     cfg.ProfileName,
		Enabled:         true,
	}

	if err := s.persistTarget(ctx, target); err != nil {
		s.logAppend(ctx, "error", "system", "start_target: persist failed", string(id), cfg.InitialURL, map[string]any{"error": err.Error()})
		return "", core.ErrPersistence.Wrap(err)
	}

	readyErr := s.agent.EnsureReady(ctx, cfg.PageRef)
	if readyErr != nil {
		s.logAppend(ctx, "warning", "page_agent", "ensure_ready failed at start, first cycle skipped", string(id), cfg.InitialURL, map[string]any{"error": readyErr.Error()})
	}

	s.launch(target)
	s.logAppend(ctx, "info", "monitoring", "target started", string(id), cfg.InitialURL, nil)

	if readyErr == nil {
		go s.runOnce(id)
	}

	return id, nil
}

// launch installs target into the running set and starts its periodic
// timer. Callers must have already persisted target.
func (s *Supervisor) launch(target core.Target) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &runningTarget{target: target, ctx: ctx, cancel: cancel}

	s.mu.Lock()
	s.running[target.ID] = rt
	s.mu.Unlock()

	go s.scheduleLoop(rt)
}

// scheduleLoop owns the periodic timer for one target (spec §4.1: "each
// target has exactly one timer"). The initial cycle triggered by
// StartTarget is not billed against this schedule — the first tick fires
// one full interval after launch.
func (s *Supervisor) scheduleLoop(rt *runningTarget) {
	ticker := time.NewTicker(rt.target.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(rt.target.ID)
		}
	}
}

// runOnce enforces the at-most-one-in-flight guarantee (spec §4.1, §5,
// §8 invariant 1): a tick that would overlap a cycle already running for
// this target is dropped, not queued.
func (s *Supervisor) runOnce(id core.TargetID) {
	s.mu.Lock()
	rt, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if !rt.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer rt.inFlight.Store(false)

	s.runCycle(rt)
}

func (s *Supervisor) runCycle(rt *runningTarget) {
	rt.mu.Lock()
	target := rt.target
	rt.mu.Unlock()

	result := pipeline.Run(rt.ctx, target, s.CurrentGlobalWebhook(), pipeline.Deps{
		Agent:         s.agent,
		Dispatcher:    s.dispatcher,
		RecordSuccess: s.tracker.RecordSuccess,
		RecordFailure: s.tracker.RecordFailure,
		Append:        s.appendFunc(),
		Now:           s.now,
	})

	switch result.Outcome {
	case pipeline.OutcomeCancelled, pipeline.OutcomeDisabled:
		return
	}

	rt.mu.Lock()
	if result.NewLastHash != "" {
		rt.target.LastHash = result.NewLastHash
	}
	rt.target.LastCheckAt = s.now().UnixMilli()
	snapshot := rt.target
	rt.mu.Unlock()

	ctx := context.Background()

	// A RecordFailure call inside pipeline.Run may have already triggered
	// autoStop synchronously (Failure Tracker threshold reached mid-cycle),
	// which removes the target and deletes its store record. Persisting
	// the snapshot below would otherwise resurrect that just-deleted row.
	s.mu.Lock()
	_, stillRunning := s.running[target.ID]
	s.mu.Unlock()
	if !stillRunning {
		return
	}

	if err := s.persistTarget(ctx, snapshot); err != nil {
		s.logAppend(ctx, "warning", "system", "persist cycle result failed", string(target.ID), target.InitialURL, map[string]any{"error": err.Error()})
	}

	switch result.Outcome {
	case pipeline.OutcomeNavigatedAway, pipeline.OutcomePageGone:
		s.stopLocked(ctx, target.ID)
	}
}

// StopTarget cancels the target's timer, removes it from the live set,
// deletes its persisted record, and forgets its failure count (spec
// §4.1). Idempotent in the strict sense required by §8: a second call on
// an already-removed target returns ErrTargetNotFound.
func (s *Supervisor) StopTarget(ctx context.Context, id core.TargetID) error {
	s.mu.Lock()
	rt, ok := s.running[id]
	if ok {
		delete(s.running, id)
	}
	s.mu.Unlock()

	if !ok {
		s.logAppend(ctx, "error", "system", "stop_target: target not found", string(id), "", nil)
		return core.ErrTargetNotFound
	}

	rt.cancel()
	s.tracker.Forget(string(id))
	if err := s.store.DeleteTarget(ctx, string(id)); err != nil {
		s.logAppend(ctx, "warning", "system", "stop_target: delete record failed", string(id), "", map[string]any{"error": err.Error()})
	}
	s.logAppend(ctx, "info", "monitoring", "stopped", string(id), "", nil)
	return nil
}

// stopLocked is StopTarget's body without the not-found error path or
// the generic "stopped" log line, used by internal auto-stop paths
// (navigated-away, page-gone, auto-stop) that have already logged their
// own, more specific message.
func (s *Supervisor) stopLocked(ctx context.Context, id core.TargetID) {
	s.mu.Lock()
	rt, ok := s.running[id]
	if ok {
		delete(s.running, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	rt.cancel()
	s.tracker.Forget(string(id))
	if err := s.store.DeleteTarget(ctx, string(id)); err != nil {
		s.logAppend(ctx, "warning", "system", "delete target record failed", string(id), "", map[string]any{"error": err.Error()})
	}
}

// autoStop is the Failure Tracker's onStop callback (spec §4.5): it
// fires exactly once, the instant a target's consecutive-failure count
// first reaches the threshold.
func (s *Supervisor) autoStop(targetID string) {
	id := core.TargetID(targetID)
	count := s.tracker.Count(targetID)
	ctx := context.Background()

	s.stopLocked(ctx, id)
	s.logAppend(ctx, "warning", "monitoring", "auto-stopped after repeated failures", targetID, "", map[string]any{"count": count})
}

// Status returns whether id is currently running and its live config
// snapshot.
func (s *Supervisor) Status(id core.TargetID) (StatusResult, error) {
	s.mu.Lock()
	rt, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return StatusResult{}, core.ErrTargetNotFound
	}
	rt.mu.Lock()
	target := rt.target
	rt.mu.Unlock()
	return StatusResult{IsRunning: true, Config: target}, nil
}

// StatusResult is the shape returned by Status.
type StatusResult struct {
	IsRunning bool
	Config    core.Target
}

// StatusAll returns every currently live TargetID.
func (s *Supervisor) StatusAll() []core.TargetID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]core.TargetID, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) findByPageRef(pageRef string) (core.TargetID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rt := range s.running {
		rt.mu.Lock()
		ref := rt.target.PageRef
		rt.mu.Unlock()
		if ref == pageRef {
			return id, true
		}
	}
	return "", false
}

// RestoreFromStore loads every enabled persisted target and re-launches
// it, matching against the Page Agent's currently known pages by
// normalized-URL equality (spec §4.1). Call once at process start,
// before serving any Command/Query API traffic.
func (s *Supervisor) RestoreFromStore(ctx context.Context) error {
	recs, err := s.store.LoadEnabledTargets(ctx)
	if err != nil {
		return core.ErrPersistence.Wrap(err)
	}

	var known map[string]string
	if lister, ok := s.agent.(PageLister); ok {
		known, err = lister.ListPages(ctx)
		if err != nil {
			s.logAppend(ctx, "warning", "system", "restore: list pages failed", "", "", map[string]any{"error": err.Error()})
			known = nil
		}
	}

	for _, rec := range recs {
		pageRef := rec.PageRef
		if known != nil {
			normalized := core.NormalizeURL(rec.InitialURL)
			matched := ""
			for ref, liveURL := range known {
				if core.NormalizeURL(liveURL) == normalized {
					matched = ref
					break
				}
			}
			if matched == "" {
				// No live page currently matches; leave persisted,
				// pick it up on a future restore.
				continue
			}
			pageRef = matched
		}

		if pageRef != rec.PageRef {
			rec.PageRef = pageRef
			if err := s.store.SaveTarget(ctx, rec); err != nil {
				s.logAppend(ctx, "warning", "system", "restore: rewrite page_ref failed", rec.ID, rec.InitialURL, map[string]any{"error": err.Error()})
			}
		}

		target := recordToTarget(rec)
		target.PageRef = pageRef

		readyErr := s.agent.EnsureReady(ctx, pageRef)
		if readyErr != nil {
			s.logAppend(ctx, "warning", "page_agent", "restore: ensure_ready failed", rec.ID, rec.InitialURL, map[string]any{"error": readyErr.Error()})
		}

		s.launch(target)
		s.logAppend(ctx, "info", "monitoring", "restored", rec.ID, rec.InitialURL, nil)

		if readyErr == nil {
			go s.runOnce(target.ID)
		}
	}
	return nil
}

// Shutdown stops every live target, used at process exit (spec §5: "no
// global cancellation token; shutdown iterates live targets and calls
// stop_target on each").
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, id := range s.StatusAll() {
		_ = s.StopTarget(ctx, id)
	}
}

func (s *Supervisor) persistTarget(ctx context.Context, t core.Target) error {
	return s.store.SaveTarget(ctx, targetToRecord(t))
}

func (s *Supervisor) logAppend(ctx context.Context, level, category, message, targetID, url string, details map[string]any) {
	s.log.Append(ctx, activitylog.LogEntry{
		Level:    activitylog.Level(level),
		Category: activitylog.Category(category),
		Message:  message,
		TargetID: targetID,
		URL:      url,
		Details:  details,
	})
}

func (s *Supervisor) appendFunc() pipeline.AppendFunc {
	return func(ctx context.Context, level, category, message, targetID, url string, details map[string]any) {
		s.logAppend(ctx, level, category, message, targetID, url, details)
	}
}
