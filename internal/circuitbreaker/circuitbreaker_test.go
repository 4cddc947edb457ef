package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/worker"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	cb := New(cfg, zap.NewNop())
	cb.now = clock.now
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(DefaultConfig("smtp"), zap.NewNop())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
	if cb.Name() != "smtp" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_AllowsRequestsWhenClosed(t *testing.T) {
	cb := New(DefaultConfig("smtp"), zap.NewNop())
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "ses", MaxFailures: 3, RecoveryTimeout: time.Minute})
	trip(cb, 3)
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "sns", MaxFailures: 2, RecoveryTimeout: time.Minute})
	trip(cb, 2)

	clock.advance(59 * time.Second)
	if cb.Allow() {
		t.Fatal("should still reject before the recovery timeout")
	}

	clock.advance(time.Second)
	if !cb.Allow() {
		t.Fatal("should allow probe after timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("second half-open request should be rejected")
	}
}

func TestCircuitBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name   string
		record func(*CircuitBreaker)
		want   State
	}{
		{"success closes", (*CircuitBreaker).RecordSuccess, StateClosed},
		{"failure reopens", (*CircuitBreaker).RecordFailure, StateOpen},
		{"abandoned stays half-open", (*CircuitBreaker).RecordAbandoned, StateHalfOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "webhook", MaxFailures: 1, RecoveryTimeout: time.Minute})
			trip(cb, 1)
			clock.advance(time.Minute)
			cb.Allow()
			tt.record(cb)
			if cb.GetState() != tt.want {
				t.Fatalf("state = %s, want %s", cb.GetState(), tt.want)
			}
		})
	}
}

func TestCircuitBreaker_AbandonedProbeFreesSlot(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "webhook", MaxFailures: 1, RecoveryTimeout: time.Minute})
	trip(cb, 1)
	clock.advance(time.Minute)

	cb.Allow()
	cb.RecordAbandoned()
	if !cb.Allow() {
		t.Fatal("abandoned probe should let another probe through")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sqs", MaxFailures: 3})
	trip(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset failure count")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "ses", MaxFailures: 2, RecoveryTimeout: time.Hour})
	trip(cb, 2)
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed after reset, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "stats-test", MaxFailures: 1, RecoveryTimeout: time.Hour})
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()

	stats := cb.Stats()
	if stats.Name != "stats-test" || stats.State != "open" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalRequests != 3 || stats.TotalSuccesses != 1 || stats.TotalFailures != 1 || stats.TotalRejected != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.LastFailure == "" {
		t.Error("LastFailure not set")
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("svc")
	if cfg.MaxFailures != 5 {
		t.Fatalf("max_failures = %d", cfg.MaxFailures)
	}
	if cfg.RecoveryTimeout != 2*time.Minute {
		t.Fatalf("recovery_timeout = %v", cfg.RecoveryTimeout)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

// --- ProtectedSender Tests ---

type mockSender struct {
	sendErr   error
	channel   string
	sendCalls int
}

func (m *mockSender) Send(ctx context.Context, msg *worker.Message) error {
	m.sendCalls++
	return m.sendErr
}

func (m *mockSender) SupportsChannel(channel string) bool {
	return channel == m.channel
}

func testMessage(ch string) *worker.Message {
	return &worker.Message{Channel: ch, Recipient: "dev@example.com", Key: "cf-1234:60"}
}

func TestProtectedSender_PassesThrough(t *testing.T) {
	mock := &mockSender{channel: worker.ChannelEmail}
	ps := Protect("smtp", mock, zap.NewNop())
	if err := ps.Send(context.Background(), testMessage(worker.ChannelEmail)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if mock.sendCalls != 1 {
		t.Fatalf("calls = %d", mock.sendCalls)
	}
}

func TestProtectedSender_FailFastWhenOpen(t *testing.T) {
	mock := &mockSender{sendErr: errors.New("down"), channel: worker.ChannelEmail}
	cb, _ := newTestBreaker(Config{Name: "ses", MaxFailures: 2})
	ps := NewProtectedSender(mock, cb, zap.NewNop())
	ps.Send(context.Background(), testMessage(worker.ChannelEmail))
	ps.Send(context.Background(), testMessage(worker.ChannelEmail))
	mock.sendCalls = 0
	err := ps.Send(context.Background(), testMessage(worker.ChannelEmail))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if mock.sendCalls != 0 {
		t.Fatalf("sender called %d times when circuit open", mock.sendCalls)
	}
}

func TestProtectedSender_CanceledContextNotCounted(t *testing.T) {
	mock := &mockSender{sendErr: fmt.Errorf("smtp send failed: %w", context.Canceled), channel: worker.ChannelEmail}
	cb, _ := newTestBreaker(Config{Name: "smtp", MaxFailures: 1})
	ps := NewProtectedSender(mock, cb, zap.NewNop())

	ps.Send(context.Background(), testMessage(worker.ChannelEmail))
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
	if cb.Stats().TotalFailures != 0 {
		t.Fatal("canceled send counted as failure")
	}
}

func TestProtectedSender_SupportsChannel(t *testing.T) {
	mock := &mockSender{channel: worker.ChannelWebhook}
	ps := Protect("webhook", mock, zap.NewNop())
	if !ps.SupportsChannel(worker.ChannelWebhook) {
		t.Fatal("should support webhook")
	}
	if ps.SupportsChannel(worker.ChannelEmail) {
		t.Fatal("should not support email")
	}
}

func TestProtectedSender_FullLifecycle(t *testing.T) {
	mock := &mockSender{channel: worker.ChannelEmail}
	cb, clock := newTestBreaker(Config{Name: "lifecycle", MaxFailures: 3, RecoveryTimeout: time.Minute})
	ps := NewProtectedSender(mock, cb, zap.NewNop())
	msg := testMessage(worker.ChannelEmail)

	if err := ps.Send(context.Background(), msg); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	mock.sendErr = errors.New("SES down")
	for i := 0; i < 3; i++ {
		ps.Send(context.Background(), msg)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	mock.sendCalls = 0
	if err := ps.Send(context.Background(), msg); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail fast: %v", err)
	}
	if mock.sendCalls != 0 {
		t.Fatal("sender should not be called while open")
	}

	clock.advance(time.Minute)
	mock.sendErr = nil
	if err := ps.Send(context.Background(), msg); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
}

func TestProtectedSender_InMultiSender(t *testing.T) {
	email := &mockSender{channel: worker.ChannelEmail}
	hook := &mockSender{channel: worker.ChannelWebhook, sendErr: errors.New("503")}
	multi := worker.NewMultiSender(zap.NewNop(),
		Protect("smtp", email, zap.NewNop()),
		Protect("webhook", hook, zap.NewNop()),
	)

	if err := multi.Send(context.Background(), testMessage(worker.ChannelEmail)); err != nil {
		t.Fatalf("email: %v", err)
	}
	if err := multi.Send(context.Background(), testMessage(worker.ChannelWebhook)); err == nil {
		t.Fatal("webhook failure not surfaced")
	}
	if email.sendCalls != 1 || hook.sendCalls != 1 {
		t.Errorf("calls = email %d, webhook %d", email.sendCalls, hook.sendCalls)
	}
}

func TestProtectedSender_RecipientRefusalsKeepCircuitClosed(t *testing.T) {
	hook := &mockSender{
		channel: worker.ChannelWebhook,
		sendErr: fmt.Errorf("%w: webhook returned non-2xx status: 404", worker.ErrPermanent),
	}
	cb, _ := newTestBreaker(Config{Name: "webhook", MaxFailures: 5})
	ps := NewProtectedSender(hook, cb, zap.NewNop())

	dead := &worker.Message{Channel: worker.ChannelWebhook, Recipient: "https://dead.example/hook", Key: "r-1"}
	for i := 0; i < 10; i++ {
		if err := ps.Send(context.Background(), dead); !errors.Is(err, worker.ErrPermanent) {
			t.Fatalf("send %d: err = %v, want ErrPermanent", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed after recipient refusals", cb.GetState())
	}

	hook.sendErr = nil
	ops := &worker.Message{Channel: worker.ChannelWebhook, Recipient: "https://ops.example/alerts", Key: "cf-1234:60"}
	if err := ps.Send(context.Background(), ops); err != nil {
		t.Fatalf("healthy recipient blocked: %v", err)
	}

	stats := cb.Stats()
	if stats.TotalRefused != 10 || stats.TotalFailures != 0 {
		t.Errorf("stats = %+v, want 10 refused, 0 failures", stats)
	}
}

func TestCircuitBreaker_RefusalInHalfOpenCloses(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "smtp", MaxFailures: 1, RecoveryTimeout: time.Minute})
	trip(cb, 1)
	clock.advance(time.Minute)

	if !cb.Allow() {
		t.Fatal("a trial request should be allowed after the recovery timeout")
	}
	cb.RecordRefused()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed once the sink answers", cb.GetState())
	}
}
