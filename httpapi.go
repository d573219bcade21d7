package pagewatch

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchloop/pagewatch/internal/activitylog"
)

// NewRouter exposes the Command/Query API (spec §4.7) over HTTP. Any
// transport satisfying the command/parameter/response shapes of §4.7
// works per spec §6 — chi is the teacher's own router of choice.
func NewRouter(api *API) chi.Router {
	r := chi.NewRouter()
	r.Post("/targets", api.handleStartTarget)
	r.Delete("/targets/{id}", api.handleStopTarget)
	r.Get("/targets/{id}", api.handleStatus)
	r.Get("/targets", api.handleStatusAll)
	r.Post("/send-now", api.handleSendNow)
	r.Get("/activity-log", api.handleGetActivityLog)
	r.Post("/activity-log/clear", api.handleClearActivityLog)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(resp Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.Code {
	case "target_not_found", "element_not_found":
		return http.StatusNotFound
	case "invalid_selector", "invalid_interval", "invalid_webhook_url", "invalid_page_url":
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

// startTargetBody is the wire shape of POST /targets, matching every
// field of §3 except last_hash, last_check_at, enabled, and TargetID.
type startTargetBody struct {
	PageRef         string `json:"page_ref"`
	InitialURL      string `json:"initial_url"`
	Selector        string `json:"selector"`
	ContentMode     string `json:"content_mode"`
	IntervalMs      int64  `json:"interval_ms"`
	ChangeDetection bool   `json:"change_detection"`
	WebhookOverride string `json:"webhook_override"`
	ProfileName     string `json:"profile_name"`
}

func (a *API) handleStartTarget(w http.ResponseWriter, r *http.Request) {
	var body startTargetBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Code: "invalid_request", Message: err.Error()})
		return
	}
	cfg := TargetConfig{
		PageRef:         body.PageRef,
		InitialURL:      body.InitialURL,
		Selector:        body.Selector,
		ContentMode:     ContentMode(body.ContentMode),
		Interval:        time.Duration(body.IntervalMs) * time.Millisecond,
		ChangeDetection: body.ChangeDetection,
		WebhookOverride: body.WebhookOverride,
		ProfileName:     body.ProfileName,
	}
	resp := a.StartTarget(r.Context(), cfg)
	writeJSON(w, statusFor(resp.Response), resp)
}

func (a *API) handleStopTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := a.StopTarget(r.Context(), TargetID(id))
	writeJSON(w, statusFor(resp), resp)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := a.Status(TargetID(id))
	writeJSON(w, statusFor(resp.Response), resp)
}

func (a *API) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	resp := a.StatusAll()
	writeJSON(w, http.StatusOK, resp)
}

type sendNowBody struct {
	TargetID        string `json:"target_id"`
	PageRef         string `json:"page_ref"`
	Selector        string `json:"selector"`
	ContentMode     string `json:"content_mode"`
	WebhookOverride string `json:"webhook_override"`
}

func (a *API) handleSendNow(w http.ResponseWriter, r *http.Request) {
	var body sendNowBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Code: "invalid_request", Message: err.Error()})
		return
	}
	resp := a.SendNow(r.Context(), SendNowRequest{
		TargetID:        body.TargetID,
		PageRef:         body.PageRef,
		Selector:        body.Selector,
		ContentMode:     ContentMode(body.ContentMode),
		WebhookOverride: body.WebhookOverride,
	})
	writeJSON(w, statusFor(resp.Response), resp)
}

func (a *API) handleGetActivityLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := GetActivityLogRequest{}
	if v := q.Get("target_id"); v != "" {
		req.TargetID = &v
	}
	if v := q.Get("level"); v != "" {
		lvl := activitylog.Level(v)
		req.Level = &lvl
	}
	if v := q.Get("category"); v != "" {
		cat := activitylog.Category(v)
		req.Category = &cat
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Limit = n
		}
	}
	resp := a.GetActivityLog(req)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClearActivityLog(w http.ResponseWriter, r *http.Request) {
	resp := a.ClearActivityLog(r.Context())
	writeJSON(w, statusFor(resp), resp)
}
