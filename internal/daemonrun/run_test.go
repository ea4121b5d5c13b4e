package daemonrun_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"retrievald/internal/config"
	"retrievald/internal/daemonrun"
	"retrievald/internal/power"
	"retrievald/internal/retrieval"
	"retrievald/internal/testsupport"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// stubService embeds the interface so only lifecycle methods need bodies.
type stubService struct {
	retrieval.Service
	rec     *recorder
	stopErr error
}

func (s *stubService) Start(context.Context) error {
	s.rec.add("service.start")
	return nil
}

func (s *stubService) Stop() error {
	s.rec.add("service.stop")
	return s.stopErr
}

func (s *stubService) State(context.Context) (*retrieval.State, error) {
	return &retrieval.State{Running: true}, nil
}

type stubMonitor struct{ rec *recorder }

func (m *stubMonitor) Start(context.Context) error {
	m.rec.add("monitor.start")
	return nil
}

func (m *stubMonitor) Stop() { m.rec.add("monitor.stop") }

func (m *stubMonitor) Running() bool { return false }

func testOptions(rec *recorder, service *stubService, listener net.Listener) daemonrun.Options {
	return daemonrun.Options{
		LogLevel: "error",
		Listener: listener,
		NewService: func(context.Context, *config.Config, *slog.Logger) (retrieval.Service, error) {
			return service, nil
		},
		MonitorFactory: func(*slog.Logger, power.Callback, power.Callback) power.Monitor {
			return &stubMonitor{rec: rec}
		},
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rec := &recorder{}
	service := &stubService{rec: rec}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	opts := testOptions(rec, service, listener)
	opts.Ready = func(addr string) { ready <- addr }

	done := make(chan error, 1)
	go func() { done <- daemonrun.Run(ctx, cfg, opts) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health check failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{"monitor.start", "service.start", "monitor.stop", "service.stop"}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	settings, err := config.ReadSettings(cfg.Paths.SettingsPath)
	if err != nil {
		t.Fatalf("settings not generated: %v", err)
	}
	if settings.Token == "" {
		t.Fatal("expected generated token")
	}
}

func TestRunPreservesServeAndStopErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rec := &recorder{}
	stopErr := errors.New("flush index")
	service := &stubService{rec: rec, stopErr: stopErr}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// A closed listener makes Serve fail immediately.
	listener.Close()

	err = daemonrun.Run(context.Background(), cfg, testOptions(rec, service, listener))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, stopErr) {
		t.Fatalf("stop error lost: %v", err)
	}
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("serve error lost: %v", err)
	}

	want := []string{"monitor.start", "service.start", "monitor.stop", "service.stop"}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
