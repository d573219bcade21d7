package pagewatch

import (
	"context"
	"time"

	"github.com/watchloop/pagewatch/internal/activitylog"
	"github.com/watchloop/pagewatch/internal/core"
	"github.com/watchloop/pagewatch/internal/webhook"
)

// API is the thin Command/Query façade (spec §4.7) the UI and any other
// caller talks to. It holds no state of its own beyond non-owning
// handles to the Supervisor and the Activity Log — every command either
// delegates to the Supervisor or reads straight from the log.
type API struct {
	sup *Supervisor
	log *activitylog.Log
	now func() time.Time
}

// NewAPI wraps sup and log into a Command/Query façade. log is the same
// handle passed to NewSupervisor so GetActivityLog/ClearActivityLog see
// the same entries the Supervisor appends.
func NewAPI(sup *Supervisor, log *activitylog.Log) *API {
	return &API{sup: sup, log: log, now: time.Now}
}

// Response is the base {success, code, message} shape every command
// returns (spec §4.7).
type Response struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func errResponse(err error) Response {
	return Response{Success: false, Code: core.Code(err), Message: err.Error()}
}

func okResponse() Response { return Response{Success: true} }

// StartTargetResponse is start_target's return shape.
type StartTargetResponse struct {
	Response
	TargetID string `json:"target_id,omitempty"`
}

// StartTarget validates and schedules a new watch target (spec §4.7,
// §6: all fields of §3 except last_hash, last_check_at, enabled, and the
// generated TargetID).
func (a *API) StartTarget(ctx context.Context, cfg TargetConfig) StartTargetResponse {
	id, err := a.sup.StartTarget(ctx, cfg)
	if err != nil {
		return StartTargetResponse{Response: errResponse(err)}
	}
	return StartTargetResponse{Response: okResponse(), TargetID: string(id)}
}

// StopTarget cancels and removes a running target (spec §4.7: {target_id}).
func (a *API) StopTarget(ctx context.Context, id TargetID) Response {
	if err := a.sup.StopTarget(ctx, id); err != nil {
		return errResponse(err)
	}
	return okResponse()
}

// StatusResponse is status's return shape.
type StatusResponse struct {
	Response
	IsRunning bool    `json:"is_running"`
	Target    *Target `json:"target,omitempty"`
}

// Status reports whether id is currently running and its live config.
func (a *API) Status(id TargetID) StatusResponse {
	result, err := a.sup.Status(id)
	if err != nil {
		return StatusResponse{Response: errResponse(err)}
	}
	t := result.Config
	return StatusResponse{Response: okResponse(), IsRunning: result.IsRunning, Target: &t}
}

// StatusAllResponse is status_all's return shape.
type StatusAllResponse struct {
	Response
	TargetIDs []string `json:"target_ids"`
}

// StatusAll lists every currently live TargetID.
func (a *API) StatusAll() StatusAllResponse {
	ids := a.sup.StatusAll()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return StatusAllResponse{Response: okResponse(), TargetIDs: out}
}

// SendNowRequest is send_now's parameter shape (spec §6): either
// TargetID names an existing target, or PageRef/Selector/ContentMode
// describe an ad-hoc one-off fetch.
type SendNowRequest struct {
	TargetID        string
	PageRef         string
	Selector        string
	ContentMode     ContentMode
	WebhookOverride string
}

// SendNowResponse is send_now's return shape.
type SendNowResponse struct {
	Response
	Dispatched bool `json:"dispatched"`
}

// SendNow executes exactly one immediate fetch-and-dispatch, bypassing
// change detection entirely (changeDetected is always true in the
// posted payload) and never touching last_hash or the Failure Tracker
// (spec §4.7).
func (a *API) SendNow(ctx context.Context, req SendNowRequest) SendNowResponse {
	pageRef, selector, initialURL, targetWebhook := req.PageRef, req.Selector, req.PageRef, ""
	mode := req.ContentMode
	var interval time.Duration

	if req.TargetID != "" {
		result, err := a.sup.Status(TargetID(req.TargetID))
		if err != nil {
			return SendNowResponse{Response: errResponse(err)}
		}
		cfg := result.Config
		pageRef = cfg.PageRef
		selector = cfg.Selector
		initialURL = cfg.InitialURL
		targetWebhook = cfg.WebhookOverride
		mode = cfg.ContentMode
		interval = cfg.Interval
	}
	if mode == "" {
		mode = ContentModeMarkup
	}
	if selector == "" {
		a.log.Append(ctx, errorLogEntry("system", "send_now rejected: empty selector", req.TargetID, initialURL, nil))
		return SendNowResponse{Response: errResponse(core.ErrInvalidSelector)}
	}

	agentImpl := a.sup.Agent()
	if err := agentImpl.EnsureReady(ctx, pageRef); err != nil {
		a.log.Append(ctx, errorLogEntry("page_agent", "send_now: ensure_ready failed", req.TargetID, initialURL, map[string]any{"error": err.Error()}))
		return SendNowResponse{Response: errResponse(err)}
	}
	content, err := agentImpl.Extract(ctx, pageRef, selector, mode)
	if err != nil {
		a.log.Append(ctx, errorLogEntry("extraction", "send_now: extract failed", req.TargetID, initialURL, map[string]any{"error": err.Error()}))
		return SendNowResponse{Response: errResponse(err)}
	}

	effectiveURL, ok := webhook.ResolveEffectiveWebhook(req.WebhookOverride, targetWebhook, a.sup.CurrentGlobalWebhook())
	if !ok {
		a.log.Append(ctx, errorLogEntry("webhook", "send_now: no webhook configured", req.TargetID, initialURL, nil))
		return SendNowResponse{Response: errResponse(core.ErrNoWebhookConfigured)}
	}

	payload := webhook.NewPayload(initialURL, content, selector, true, interval, webhook.ParseTabID(pageRef), effectiveURL, a.now())
	outcome, dispatchErr := a.sup.Dispatcher().Dispatch(ctx, effectiveURL, payload)
	if dispatchErr != nil || !outcome.Success {
		a.log.Append(ctx, errorLogEntry("webhook", "send_now: dispatch failed", req.TargetID, initialURL, map[string]any{
			"status":   outcome.StatusCode,
			"metadata": map[string]any{"webhookUrl": effectiveURL},
		}))
		return SendNowResponse{Response: errResponse(core.ErrWebhookHTTPError)}
	}

	a.log.Append(ctx, activitylog.LogEntry{
		Level:    activitylog.LevelSuccess,
		Category: activitylog.CategoryWebhook,
		Message:  "send_now: dispatched",
		TargetID: req.TargetID,
		URL:      initialURL,
		Details: map[string]any{
			"contentBytes":   outcome.ContentBytes,
			"changeDetected": true,
			"metadata":       map[string]any{"webhookUrl": effectiveURL},
		},
	})
	return SendNowResponse{Response: okResponse(), Dispatched: true}
}

func errorLogEntry(category, message, targetID, url string, details map[string]any) activitylog.LogEntry {
	return activitylog.LogEntry{
		Level:    activitylog.LevelError,
		Category: activitylog.Category(category),
		Message:  message,
		TargetID: targetID,
		URL:      url,
		Details:  details,
	}
}

// GetActivityLogRequest is get_activity_log's parameter shape (spec §6).
type GetActivityLogRequest struct {
	TargetID *string
	Level    *activitylog.Level
	Category *activitylog.Category
	Limit    int
}

// GetActivityLogResponse is get_activity_log's return shape.
type GetActivityLogResponse struct {
	Response
	Entries []activitylog.LogEntry `json:"entries"`
}

// GetActivityLog queries the Activity Log, AND-composing every supplied
// predicate (spec §4.6).
func (a *API) GetActivityLog(req GetActivityLogRequest) GetActivityLogResponse {
	entries := a.log.Query(activitylog.Filter{
		TargetID: req.TargetID,
		Level:    req.Level,
		Category: req.Category,
		Limit:    req.Limit,
	})
	return GetActivityLogResponse{Response: okResponse(), Entries: entries}
}

// ClearActivityLog empties the Activity Log, resets every Failure
// Tracker counter, and removes the persisted snapshot (spec §4.6).
func (a *API) ClearActivityLog(ctx context.Context) Response {
	if err := a.log.Clear(ctx); err != nil {
		return errResponse(core.ErrPersistence.Wrap(err))
	}
	a.sup.Tracker().ClearAll()
	return okResponse()
}
