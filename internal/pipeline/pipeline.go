// Package pipeline implements the Cycle Pipeline (spec §4.2): the
// per-target sequence of refresh, wait-for-ready, extract-with-retries,
// hash, change-detect, and dispatch that runs on every tick.
package pipeline

import (
	"context"
	"time"

	"github.com/watchloop/pagewatch/internal/core"
	"github.com/watchloop/pagewatch/internal/webhook"
)

// Timing constants (spec §4.2, §5).
const (
	readyPollInterval   = 500 * time.Millisecond
	readyPollCeiling    = 10 * time.Second
	extractInitialDelay = 5 * time.Second
	extractRetryDelay   = 3 * time.Second
	extractMaxAttempts  = 10
)

// Outcome classifies how a cycle ended, so the Supervisor knows what
// follow-up action (if any) it owns.
type Outcome string

const (
	OutcomeDisabled      Outcome = "disabled"
	OutcomeNavigatedAway Outcome = "navigated_away"
	OutcomePageGone      Outcome = "page_gone"
	OutcomeExhausted     Outcome = "extraction_exhausted"
	OutcomeBaseline      Outcome = "baseline_recorded"
	OutcomeUnchanged     Outcome = "unchanged"
	OutcomeChanged       Outcome = "changed"
	OutcomeCancelled     Outcome = "cancelled"
)

// Result is the full record of one cycle's execution, including any
// target mutations the Supervisor must persist.
type Result struct {
	Outcome       Outcome
	Content       string
	Hash          string
	NewLastHash   string // set when the Supervisor should persist a new last_hash
	DispatchedOK  bool
	DispatchTried bool
	EffectiveURL  string // masked by the caller before logging
}

// Deps bundles the Cycle Pipeline's collaborators.
type Deps struct {
	Agent      core.PageAgent
	Dispatcher *webhook.Dispatcher

	// RecordSuccess/RecordFailure feed the Failure Tracker. Either may
	// be nil in tests that don't care about failure accounting.
	RecordSuccess func(targetID string)
	RecordFailure func(targetID string)

	// Append writes a LogEntry-shaped event. Defined as a narrow func
	// type (not the activitylog package directly) so this package
	// doesn't need to import it.
	Append AppendFunc

	Now func() time.Time
}

// AppendFunc matches activitylog.Log.Append's call shape closely enough
// for the pipeline to log without importing that package.
type AppendFunc func(ctx context.Context, level, category, message, targetID, url string, details map[string]any)

// Run executes one full cycle for target against deps, honoring
// cancellation at every suspension point (spec §5). effectiveWebhookURL
// resolution and the decision of whether to dispatch at all happen
// inside Run per spec §4.2 steps 8-9.
func Run(ctx context.Context, target core.Target, globalWebhook string, deps Deps) Result {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	if !target.Enabled {
		return Result{Outcome: OutcomeDisabled}
	}

	// Step 1: preflight — make sure a page handle exists before asking
	// it anything.
	if err := deps.Agent.EnsureReady(ctx, target.PageRef); err != nil {
		if core.Code(err) == core.Code(core.ErrPageGone) {
			deps.logEvent(ctx, "warning", "monitoring", "page no longer exists", target.ID, target.InitialURL, nil)
			return Result{Outcome: OutcomePageGone}
		}
		deps.logEvent(ctx, "error", "page_agent", "preflight failed", target.ID, target.InitialURL, map[string]any{"error": err.Error()})
		return Result{Outcome: OutcomePageGone}
	}

	// Step 2: navigation check.
	liveURL, err := deps.Agent.CurrentURL(ctx, target.PageRef)
	if err != nil {
		if core.Code(err) == core.Code(core.ErrPageGone) {
			deps.logEvent(ctx, "warning", "monitoring", "page no longer exists", target.ID, target.InitialURL, nil)
			return Result{Outcome: OutcomePageGone}
		}
		// Any other CurrentURL failure is treated like page-gone: the
		// pipeline cannot proceed without knowing where it stands.
		deps.logEvent(ctx, "warning", "page_agent", "failed to read current url", target.ID, target.InitialURL, map[string]any{"error": err.Error()})
		return Result{Outcome: OutcomePageGone}
	}
	if core.NormalizeURL(liveURL) != core.NormalizeURL(target.InitialURL) {
		deps.logEvent(ctx, "warning", "monitoring", "navigated away", target.ID, target.InitialURL, map[string]any{"liveUrl": liveURL})
		return Result{Outcome: OutcomeNavigatedAway}
	}

	// Step 3: refresh.
	if err := deps.Agent.Refresh(ctx, target.PageRef); err != nil {
		if core.Code(err) == core.Code(core.ErrPageGone) {
			return Result{Outcome: OutcomePageGone}
		}
		// A refresh failure that isn't page-gone is absorbed by the
		// extract-retry loop below: we still attempt extraction, since
		// the page may still be servable.
		deps.logEvent(ctx, "warning", "page_agent", "refresh failed", target.ID, target.InitialURL, map[string]any{"error": err.Error()})
	}

	// Step 4: wait-for-ready.
	if err := waitForReady(ctx, deps.Agent, target.PageRef); err != nil {
		return Result{Outcome: OutcomeCancelled}
	}

	// Step 5: extract with retries.
	content, ok, cancelled := extractWithRetries(ctx, deps.Agent, target)
	if cancelled {
		return Result{Outcome: OutcomeCancelled}
	}
	if !ok {
		deps.logEvent(ctx, "error", "extraction", "extraction budget exhausted", target.ID, target.InitialURL, nil)
		if deps.RecordFailure != nil {
			deps.RecordFailure(string(target.ID))
		}
		return Result{Outcome: OutcomeExhausted}
	}

	// Step 7: hash.
	digest := Hash(content)

	// Step 8: change decision.
	result := Result{Content: content, Hash: digest}
	changed := true
	switch {
	case !target.ChangeDetection:
		changed = true
	case target.LastHash == "":
		deps.logEvent(ctx, "info", "change", "baseline recorded", target.ID, target.InitialURL, nil)
		result.Outcome = OutcomeBaseline
		result.NewLastHash = digest
		if deps.RecordSuccess != nil {
			deps.RecordSuccess(string(target.ID))
		}
		return result
	case digest == target.LastHash:
		changed = false
	default:
		changed = true
	}

	if !changed {
		deps.logEvent(ctx, "info", "change", "no change detected", target.ID, target.InitialURL, nil)
		result.Outcome = OutcomeUnchanged
		if deps.RecordSuccess != nil {
			deps.RecordSuccess(string(target.ID))
		}
		return result
	}

	if target.ChangeDetection {
		result.NewLastHash = digest
	}
	result.Outcome = OutcomeChanged

	// Record extraction success before dispatch is attempted (spec §4.2
	// step 9: "independent of dispatch outcome, record cycle success").
	if deps.RecordSuccess != nil {
		deps.RecordSuccess(string(target.ID))
	}

	// Step 9: dispatch.
	effectiveURL, hasURL := webhook.ResolveEffectiveWebhook("", target.WebhookOverride, globalWebhook)
	if !hasURL {
		deps.logEvent(ctx, "error", "webhook", "no webhook configured", target.ID, target.InitialURL, nil)
		return result
	}
	result.EffectiveURL = effectiveURL
	result.DispatchTried = true

	payload := webhook.NewPayload(target.InitialURL, content, target.Selector, true, target.Interval, webhook.ParseTabID(target.PageRef), effectiveURL, now())
	outcome, dispatchErr := deps.Dispatcher.Dispatch(ctx, effectiveURL, payload)
	if dispatchErr != nil || !outcome.Success {
		deps.logEvent(ctx, "error", "webhook", "dispatch failed", target.ID, target.InitialURL, map[string]any{
			"status":   outcome.StatusCode,
			"errorClass": outcome.ErrorClass,
			"metadata": map[string]any{"webhookUrl": effectiveURL},
		})
		if deps.RecordFailure != nil {
			deps.RecordFailure(string(target.ID))
		}
		return result
	}

	result.DispatchedOK = true
	deps.logEvent(ctx, "success", "webhook", "dispatched", target.ID, target.InitialURL, map[string]any{
		"contentBytes":   outcome.ContentBytes,
		"changeDetected": true,
		"metadata":       map[string]any{"webhookUrl": effectiveURL},
	})
	return result
}

func (d Deps) logEvent(ctx context.Context, level, category, message string, targetID core.TargetID, url string, details map[string]any) {
	if d.Append == nil {
		return
	}
	d.Append(ctx, level, category, message, string(targetID), url, details)
}

func waitForReady(ctx context.Context, agentImpl core.PageAgent, pageRef string) error {
	deadline := time.Now().Add(readyPollCeiling)
	for {
		if agentImpl.IsLoaded(ctx, pageRef) {
			return nil
		}
		if time.Now().After(deadline) {
			return nil // proceed regardless, per spec §4.2 step 4
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// extractWithRetries issues extract(selector, content_mode), applying
// liveness validation, retrying up to extractMaxAttempts times with
// extractRetryDelay between attempts, after an initial
// extractInitialDelay. Returns (content, true, false) on success,
// ("", false, false) on budget exhaustion, or ("", false, true) if ctx
// was cancelled mid-wait.
func extractWithRetries(ctx context.Context, agentImpl core.PageAgent, target core.Target) (string, bool, bool) {
	select {
	case <-ctx.Done():
		return "", false, true
	case <-time.After(extractInitialDelay):
	}

	for attempt := 0; attempt < extractMaxAttempts; attempt++ {
		content, err := agentImpl.Extract(ctx, target.PageRef, target.Selector, target.ContentMode)
		if err == nil {
			if livenessErr := checkLiveness(content, target.ContentMode); livenessErr == nil {
				return content, true, false
			}
		}

		if attempt == extractMaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", false, true
		case <-time.After(extractRetryDelay):
		}
	}
	return "", false, false
}
