package voicesession

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestResolveSettingsReadsTheWidgetEndpoint(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"socket_url":"wss://voice.example.com/stream","max_duration_seconds":120,"sample_rate":24000}`))
	}))
	defer server.Close()

	client := NewBootstrapClient(server.URL)
	settings, err := client.ResolveSettings(context.Background(), "agent-42")
	if err != nil {
		t.Fatalf("failed to resolve settings: %v", err)
	}

	if requestedPath != "/v1/widgets/agent-42/session" {
		t.Fatalf("expected the per-widget session path, got %q", requestedPath)
	}
	if settings.SocketURL != "wss://voice.example.com/stream" {
		t.Fatalf("unexpected socket URL %q", settings.SocketURL)
	}
	if settings.MaxDurationSeconds != 120 {
		t.Fatalf("expected a 120s limit, got %d", settings.MaxDurationSeconds)
	}
}

func TestResolveSettingsRejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such widget", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewBootstrapClient(server.URL)
	if _, err := client.ResolveSettings(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected a status error for 404, got %v", err)
	}
}

func TestResolveSettingsRejectsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewBootstrapClient(server.URL)
	if _, err := client.ResolveSettings(context.Background(), "agent"); err == nil {
		t.Fatalf("expected a decode error for a malformed body")
	}
}

func TestResolveSettingsHonorsContextCancellation(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := NewBootstrapClient(server.URL)
	if _, err := client.ResolveSettings(ctx, "agent"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestStartResolvesSocketURLFromBootstrap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"socket_url":"wss://resolved.example.com/stream","max_duration_seconds":60}`))
	}))
	defer server.Close()

	fixture := newSessionFixture(WithBootstrap(NewBootstrapClient(server.URL), "agent-42"))
	fixture.start(t)

	if got := fixture.session.socketURL; got != "wss://resolved.example.com/stream" {
		t.Fatalf("expected the bootstrapped socket URL, got %q", got)
	}
}

func TestStartFailsWhenBootstrapIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	fixture := newSessionFixture(WithBootstrap(NewBootstrapClient(server.URL), "agent-42"))
	rec := &recorder{}

	err := fixture.session.Start(context.Background(), rec.options()...)
	var sessionErr *SessionError
	if !errors.As(err, &sessionErr) || sessionErr.Reason != ReasonTransportFailure {
		t.Fatalf("expected a transport failure, got %v", err)
	}
	if fixture.session.State() != StateIdle {
		t.Fatalf("expected recovery to Idle, got %v", fixture.session.State())
	}
}
