package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/watchloop/pagewatch/internal/core"
	"github.com/watchloop/pagewatch/internal/webhook"
)

// fakeAgent is a hand-written core.PageAgent stand-in; no mocking
// framework is used anywhere in this module.
type fakeAgent struct {
	mu sync.Mutex

	currentURL  string
	ensureErr   error
	currentErr  error
	refreshErr  error
	loaded      bool
	extractFunc func() (string, error)

	ensureCalls int
	refreshCalls int
}

func (f *fakeAgent) EnsureReady(ctx context.Context, pageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakeAgent) CurrentURL(ctx context.Context, pageRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return "", f.currentErr
	}
	return f.currentURL, nil
}

func (f *fakeAgent) Refresh(ctx context.Context, pageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return f.refreshErr
}

func (f *fakeAgent) IsLoaded(ctx context.Context, pageRef string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakeAgent) Extract(ctx context.Context, pageRef, selector string, mode core.ContentMode) (string, error) {
	return f.extractFunc()
}

func noopAppend(ctx context.Context, level, category, message, targetID, url string, details map[string]any) {
}

func baseTarget() core.Target {
	return core.Target{
		ID:              "t1",
		PageRef:         "https://example.com/page",
		InitialURL:      "https://example.com/page",
		Selector:        "#content",
		ContentMode:     core.ContentModeMarkup,
		Interval:        30 * time.Second,
		ChangeDetection: true,
		Enabled:         true,
	}
}

// Run has no knob for its fixed delays, so the tests below that reach
// extraction make waitForReady report loaded=true immediately and
// extraction succeed on the very first attempt; each such full cycle
// still pays the real 5s initial extraction delay.
func TestRun_Disabled(t *testing.T) {
	target := baseTarget()
	target.Enabled = false
	res := Run(context.Background(), target, "", Deps{Agent: &fakeAgent{}, Append: noopAppend})
	if res.Outcome != OutcomeDisabled {
		t.Fatalf("got outcome %v, want disabled", res.Outcome)
	}
}

func TestRun_PageGoneOnPreflight(t *testing.T) {
	target := baseTarget()
	agentImpl := &fakeAgent{ensureErr: core.ErrPageGone}
	res := Run(context.Background(), target, "", Deps{Agent: agentImpl, Append: noopAppend})
	if res.Outcome != OutcomePageGone {
		t.Fatalf("got outcome %v, want page_gone", res.Outcome)
	}
}

func TestRun_NavigatedAway(t *testing.T) {
	target := baseTarget()
	agentImpl := &fakeAgent{currentURL: "https://other.example.com/"}
	res := Run(context.Background(), target, "", Deps{Agent: agentImpl, Append: noopAppend})
	if res.Outcome != OutcomeNavigatedAway {
		t.Fatalf("got outcome %v, want navigated_away", res.Outcome)
	}
}

func TestRun_BaselineRecordedNoDispatch(t *testing.T) {
	target := baseTarget()
	dispatchCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatchCalled = true
		w.WriteHeader(200)
	}))
	defer srv.Close()

	agentImpl := &fakeAgent{
		currentURL: target.InitialURL,
		loaded:     true,
		extractFunc: func() (string, error) {
			return "hello world, this is a sufficiently long page body for liveness checks to pass cleanly, padded past the one hundred character floor.", nil
		},
	}
	var successCalls int
	res := Run(context.Background(), target, srv.URL, Deps{
		Agent:         agentImpl,
		Dispatcher:    webhook.New(),
		Append:        noopAppend,
		RecordSuccess: func(id string) { successCalls++ },
		Now:           func() time.Time { return time.Unix(0, 0) },
	})
	if res.Outcome != OutcomeBaseline {
		t.Fatalf("got outcome %v, want baseline_recorded", res.Outcome)
	}
	if res.NewLastHash == "" {
		t.Fatalf("expected NewLastHash to be set on baseline")
	}
	if dispatchCalled {
		t.Fatalf("dispatch should not occur on baseline recording")
	}
	if successCalls != 1 {
		t.Fatalf("expected RecordSuccess exactly once, got %d", successCalls)
	}
}

func TestRun_UnchangedSkipsDispatch(t *testing.T) {
	target := baseTarget()
	content := "stable content that stays long enough to clear the liveness floor check, padded past the one hundred character minimum."
	target.LastHash = Hash(content)

	dispatchCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatchCalled = true
		w.WriteHeader(200)
	}))
	defer srv.Close()

	agentImpl := &fakeAgent{
		currentURL: target.InitialURL,
		loaded:     true,
		extractFunc: func() (string, error) { return content, nil },
	}
	res := Run(context.Background(), target, srv.URL, Deps{
		Agent:      agentImpl,
		Dispatcher: webhook.New(),
		Append:     noopAppend,
		Now:        func() time.Time { return time.Unix(0, 0) },
	})
	if res.Outcome != OutcomeUnchanged {
		t.Fatalf("got outcome %v, want unchanged", res.Outcome)
	}
	if dispatchCalled {
		t.Fatalf("dispatch should not occur when content is unchanged")
	}
}

func TestRun_ChangedDispatchesSuccessfully(t *testing.T) {
	target := baseTarget()
	target.LastHash = Hash("old content that is long enough to pass the liveness floor check easily, padded past the one hundred character minimum.")
	newContent := "brand new content that is also long enough to pass the liveness floor easily, padded past the one hundred character minimum."

	var gotPayload webhook.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = gotPayload
		w.WriteHeader(200)
	}))
	defer srv.Close()

	agentImpl := &fakeAgent{
		currentURL: target.InitialURL,
		loaded:     true,
		extractFunc: func() (string, error) { return newContent, nil },
	}
	var successCalls, failureCalls int
	res := Run(context.Background(), target, srv.URL, Deps{
		Agent:         agentImpl,
		Dispatcher:    webhook.New(),
		Append:        noopAppend,
		RecordSuccess: func(id string) { successCalls++ },
		RecordFailure: func(id string) { failureCalls++ },
		Now:           func() time.Time { return time.Unix(0, 0) },
	})
	if res.Outcome != OutcomeChanged {
		t.Fatalf("got outcome %v, want changed", res.Outcome)
	}
	if !res.DispatchedOK {
		t.Fatalf("expected dispatch to succeed")
	}
	if res.NewLastHash != Hash(newContent) {
		t.Fatalf("expected NewLastHash to be the new content's hash")
	}
	if successCalls != 1 || failureCalls != 0 {
		t.Fatalf("expected 1 success/0 failure, got %d/%d", successCalls, failureCalls)
	}
}

func TestRun_DispatchFailureRecordsFailureAfterSuccess(t *testing.T) {
	target := baseTarget()
	target.LastHash = Hash("old content that is long enough to pass the liveness floor check easily, padded past the one hundred character minimum.")
	newContent := "brand new content that is also long enough to pass the liveness floor easily, padded past the one hundred character minimum."

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	agentImpl := &fakeAgent{
		currentURL: target.InitialURL,
		loaded:     true,
		extractFunc: func() (string, error) { return newContent, nil },
	}
	var order []string
	res := Run(context.Background(), target, srv.URL, Deps{
		Agent:         agentImpl,
		Dispatcher:    webhook.New(),
		Append:        noopAppend,
		RecordSuccess: func(id string) { order = append(order, "success") },
		RecordFailure: func(id string) { order = append(order, "failure") },
		Now:           func() time.Time { return time.Unix(0, 0) },
	})
	if res.Outcome != OutcomeChanged || res.DispatchedOK {
		t.Fatalf("expected changed outcome with failed dispatch, got %v dispatchedOK=%v", res.Outcome, res.DispatchedOK)
	}
	if len(order) != 2 || order[0] != "success" || order[1] != "failure" {
		t.Fatalf("expected [success, failure] call order, got %v", order)
	}
}

func TestRun_NoWebhookConfiguredStillReportsChanged(t *testing.T) {
	target := baseTarget()
	target.LastHash = Hash("old content that is long enough to pass the liveness floor check easily, padded past the one hundred character minimum.")
	newContent := "brand new content that is also long enough to pass the liveness floor easily, padded past the one hundred character minimum."

	agentImpl := &fakeAgent{
		currentURL: target.InitialURL,
		loaded:     true,
		extractFunc: func() (string, error) { return newContent, nil },
	}
	res := Run(context.Background(), target, "", Deps{
		Agent:      agentImpl,
		Dispatcher: webhook.New(),
		Append:     noopAppend,
		Now:        func() time.Time { return time.Unix(0, 0) },
	})
	if res.Outcome != OutcomeChanged {
		t.Fatalf("got outcome %v, want changed", res.Outcome)
	}
	if res.DispatchTried {
		t.Fatalf("dispatch should not be attempted with no webhook configured")
	}
}

func TestRun_ExtractionRetriesUntilCancelled(t *testing.T) {
	target := baseTarget()
	attempts := 0
	agentImpl := &fakeAgent{
		currentURL: target.InitialURL,
		loaded:     true,
		extractFunc: func() (string, error) {
			attempts++
			return "", core.ErrElementNotFound
		},
	}
	var failureCalls int
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	// The real extraction budget (5s initial delay + up to 9*3s retries)
	// is far longer than this test should wait, so a ctx deadline just
	// past the initial delay forces cancellation after one attempt
	// instead of exhausting the full ten-attempt budget.
	res := Run(ctx, target, "", Deps{
		Agent:         agentImpl,
		Append:        noopAppend,
		RecordFailure: func(id string) { failureCalls++ },
	})
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("got outcome %v, want cancelled under short deadline", res.Outcome)
	}
	if attempts == 0 {
		t.Fatalf("expected at least one extract attempt before cancellation")
	}
	if failureCalls != 0 {
		t.Fatalf("cancellation should not count as a tracked failure, got %d calls", failureCalls)
	}
}
