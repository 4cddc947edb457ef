package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/contests", 200, 100*time.Millisecond)
	RecordRequest("POST", "/admin/refresh", 409, 50*time.Millisecond)
}

func TestRecordAdapterFetch(t *testing.T) {
	RecordAdapterFetch("LeetCode", 4, 300*time.Millisecond, nil)
	RecordAdapterFetch("CodeChef", 0, 12*time.Second, errors.New("timeout"))
}

func TestRecordUpsert(t *testing.T) {
	RecordUpsert("ok")
	RecordUpsert("error")
	RecordUpsert("invalid")
}

func TestRecordSwept(t *testing.T) {
	RecordSwept(3)
	RecordSwept(0)
}

func TestRecordNotification(t *testing.T) {
	RecordNotification("sent", "email")
	RecordNotification("error", "webhook")
	RecordNotificationDeduped()
}

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("ses", 1)
	SetBreakerState("ses", 0)
}

func TestRecordReminderSent(t *testing.T) {
	RecordReminderSent()
}

func TestRecordPassSkipped(t *testing.T) {
	RecordPassSkipped("aggregate")
	RecordPassSkipped("notify")
}

func TestRecordRateLimitRejection(t *testing.T) {
	RecordRateLimitRejection("contests")
}

func TestHandler(t *testing.T) {
	RecordUpsert("ok")

	handler := Handler()
	if handler == nil {
		t.Fatal("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "contestpulse_upserts_total") {
		t.Error("expected contestpulse_upserts_total in metrics output")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/reminders", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
