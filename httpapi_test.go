package pagewatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/watchloop/pagewatch/internal/activitylog"
)

func newTestRouter(t *testing.T) (http.Handler, *Supervisor) {
	t.Helper()
	st := newTestStore(t)
	log := activitylog.New(nil)
	sup := NewSupervisor(st, &fakeAgent{loaded: true}, log)
	return NewRouter(NewAPI(sup, log)), sup
}

func TestHTTPAPI_StartTargetThenStatus(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(startTargetBody{
		PageRef:         "https://example.com/page",
		InitialURL:      "https://example.com/page",
		Selector:        "#content",
		ContentMode:     "markup",
		IntervalMs:      MinInterval.Milliseconds(),
		ChangeDetection: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/targets", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var startResp StartTargetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &startResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !startResp.Success || startResp.TargetID == "" {
		t.Fatalf("expected a target id, got %+v", startResp)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/targets/"+startResp.TargetID, nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on status, got %d", statusRec.Code)
	}
}

func TestHTTPAPI_StartTargetRejectsBadJSON(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/targets", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestHTTPAPI_StopUnknownTargetReturns404(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodDelete, "/targets/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHTTPAPI_ActivityLogEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	listReq := httptest.NewRequest(http.MethodGet, "/activity-log?limit=10", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}

	clearReq := httptest.NewRequest(http.MethodPost, "/activity-log/clear", nil)
	clearRec := httptest.NewRecorder()
	router.ServeHTTP(clearRec, clearReq)
	if clearRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on clear, got %d", clearRec.Code)
	}
}
