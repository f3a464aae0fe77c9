// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package detection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/dlguard/internal/models"
)

func criticalEvent() *SecurityEvent {
	return NewCriticalAnomalyEvent(&models.DownloadAnomaly{
		ID:          1,
		AnomalyType: models.AnomalySuspiciousPattern,
		Severity:    models.SeverityCritical,
		IPAddress:   ptr("192.0.2.1"),
	}, "security@example.com")
}

func TestWebhookNotifier_Send(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		got  SecurityEvent
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		_ = json.Unmarshal(body, &got)
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		URL:      srv.URL,
		Headers:  map[string]string{"Authorization": "Bearer test"},
		Interval: time.Millisecond,
	})
	if !n.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}
	if err := n.Send(context.Background(), criticalEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.EventType != "critical_anomaly" || got.Anomaly == nil || got.Anomaly.Severity != models.SeverityCritical {
		t.Errorf("payload = %+v", got)
	}
	if got.Recipient != "security@example.com" || got.Source != "dlguard" {
		t.Errorf("payload recipient/source = %q/%q", got.Recipient, got.Source)
	}
	if auth != "Bearer test" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebhookNotifier_RateLimitDrops(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Interval: time.Hour})
	for i := 0; i < 3; i++ {
		if err := n.Send(context.Background(), criticalEvent()); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestWebhookNotifier_BreakerOpens(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Interval: time.Microsecond})
	var lastErr error
	for i := 0; i < 5; i++ {
		time.Sleep(time.Millisecond)
		lastErr = n.Send(context.Background(), criticalEvent())
	}
	if hits.Load() != 3 {
		t.Errorf("deliveries = %d, want 3 before the breaker opens", hits.Load())
	}
	if !errors.Is(lastErr, gobreaker.ErrOpenState) {
		t.Errorf("last error = %v, want open circuit", lastErr)
	}
}

func TestWebhookNotifier_DisabledWithoutURL(t *testing.T) {
	t.Parallel()

	n := NewWebhookNotifier(WebhookConfig{})
	if n.Enabled() {
		t.Error("Enabled() = true without URL")
	}
	if err := n.Send(context.Background(), criticalEvent()); err != nil {
		t.Errorf("Send() on disabled notifier error = %v", err)
	}
}

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSNotifier_Publishes(t *testing.T) {
	t.Parallel()
	ns := startNATS(t)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 2)
	if _, err := sub.ChanSubscribe("dlguard.test.>", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	n, err := NewNATSNotifier(ns.ClientURL(), "dlguard.test")
	if err != nil {
		t.Fatalf("NewNATSNotifier() error = %v", err)
	}
	defer n.Close()

	if err := n.Send(context.Background(), criticalEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Subject != "dlguard.test.critical_anomaly" {
			t.Errorf("subject = %q", msg.Subject)
		}
		var ev SecurityEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Anomaly == nil || ev.Anomaly.ID != 1 {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Send(ctx, criticalEvent()); err != nil {
		t.Fatalf("Send(with deadline) error = %v", err)
	}
	select {
	case <-msgs:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received for send with deadline")
	}
}

type recordingNotifier struct {
	name    string
	enabled bool
	err     error
	calls   atomic.Int32
}

func (r *recordingNotifier) Send(context.Context, *SecurityEvent) error {
	r.calls.Add(1)
	return r.err
}
func (r *recordingNotifier) Name() string  { return r.name }
func (r *recordingNotifier) Enabled() bool { return r.enabled }

func TestDispatch_SkipsDisabledAndSurvivesErrors(t *testing.T) {
	t.Parallel()

	ok := &recordingNotifier{name: "ok", enabled: true}
	failing := &recordingNotifier{name: "failing", enabled: true, err: errors.New("down")}
	off := &recordingNotifier{name: "off"}

	ctx, cancel := context.WithCancel(context.Background())
	wg := Dispatch(ctx, []Notifier{ok, failing, off, nil}, criticalEvent())
	cancel()
	wg.Wait()

	if ok.calls.Load() != 1 || failing.calls.Load() != 1 || off.calls.Load() != 0 {
		t.Errorf("calls ok=%d failing=%d off=%d, want 1 1 0",
			ok.calls.Load(), failing.calls.Load(), off.calls.Load())
	}
}
