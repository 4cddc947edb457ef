package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWebhookSenderHTTPCall(t *testing.T) {
	var got WebhookPayload
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		key = r.Header.Get("X-Contestpulse-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{Timeout: 5 * time.Second, AllowPrivate: true})
	if err := sender.Send(context.Background(), testMessage(ChannelWebhook, server.URL)); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if got.Subject != "Weekly Contest 400 starts in 1 hour" || got.Key != "weekly-contest-400:60" {
		t.Errorf("payload = %+v", got)
	}
	if key != "weekly-contest-400:60" {
		t.Errorf("X-Contestpulse-Key = %q", key)
	}
}

func TestWebhookSenderHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{Timeout: 5 * time.Second, AllowPrivate: true})
	if err := sender.Send(context.Background(), testMessage(ChannelWebhook, server.URL)); err == nil {
		t.Error("Send() should have failed for 500 status")
	}
}

func TestWebhookSenderBlocksLoopback(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{Timeout: 5 * time.Second})
	if err := sender.Send(context.Background(), testMessage(ChannelWebhook, server.URL)); !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v, want the SSRF guard to refuse loopback as a permanent failure", err)
	}
	if called {
		t.Error("guarded client reached the loopback server")
	}
}

func TestWebhookSenderValidation(t *testing.T) {
	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{AllowPrivate: true})

	if err := sender.Send(context.Background(), testMessage(ChannelEmail, "https://example.com")); err == nil {
		t.Error("expected error for email channel")
	}
	if err := sender.Send(context.Background(), testMessage(ChannelWebhook, "")); err == nil {
		t.Error("expected error for missing url")
	}
	if !sender.SupportsChannel(ChannelWebhook) || sender.SupportsChannel(ChannelSMS) {
		t.Error("SupportsChannel mismatch")
	}
}

func TestWebhookSender_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"not found", http.StatusNotFound, true},
		{"gone", http.StatusGone, true},
		{"throttled", http.StatusTooManyRequests, false},
		{"request timeout", http.StatusRequestTimeout, false},
		{"server error", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			sender := NewWebhookSender(zap.NewNop(), WebhookConfig{Timeout: 5 * time.Second, AllowPrivate: true})
			err := sender.Send(context.Background(), testMessage(ChannelWebhook, server.URL))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrPermanent); got != tt.permanent {
				t.Errorf("errors.Is(err, ErrPermanent) = %v, want %v (err = %v)", got, tt.permanent, err)
			}
		})
	}
}

func TestWebhookSender_UnreachableHostIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{Timeout: 5 * time.Second, AllowPrivate: true})
	if err := sender.Send(context.Background(), testMessage(ChannelWebhook, url)); !errors.Is(err, ErrPermanent) {
		t.Errorf("err = %v, want ErrPermanent for a refused connection", err)
	}
}
