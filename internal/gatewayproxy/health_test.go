package gatewayproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHealthCheckerMarksUnhealthyAfterThreshold(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	p := NewPool("chatserver", UpstreamConfig{Servers: []string{backend.URL}})
	cfg := HealthCheckConfig{Interval: time.Hour, Timeout: time.Second, Path: "/health", UnhealthyThreshold: 2}
	hc := NewHealthChecker(p, cfg, zerolog.Nop())

	ctx := context.Background()
	hc.checkAll(ctx)
	if !p.Servers()[0].Healthy() {
		t.Fatal("server marked unhealthy after one failure, want threshold of 2")
	}
	hc.checkAll(ctx)
	if p.Servers()[0].Healthy() {
		t.Fatal("server still healthy after two consecutive failures")
	}
}

func TestHealthCheckerRecoversAfterSuccessThreshold(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	p := NewPool("chatserver", UpstreamConfig{Servers: []string{backend.URL}})
	p.Servers()[0].healthy.Store(false)

	cfg := HealthCheckConfig{Interval: time.Hour, Timeout: time.Second, Path: "/health", HealthyThreshold: 2}
	hc := NewHealthChecker(p, cfg, zerolog.Nop())

	ctx := context.Background()
	hc.checkAll(ctx)
	if p.Servers()[0].Healthy() {
		t.Fatal("server marked healthy after one success, want threshold of 2")
	}
	hc.checkAll(ctx)
	if !p.Servers()[0].Healthy() {
		t.Fatal("server still unhealthy after two consecutive successes")
	}
}

func TestHealthCheckerExpectedStatusOverridesDefault(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	p := NewPool("chatserver", UpstreamConfig{Servers: []string{backend.URL}})
	cfg := HealthCheckConfig{Interval: time.Hour, Timeout: time.Second, Path: "/health", ExpectedStatus: []int{404}}
	hc := NewHealthChecker(p, cfg, zerolog.Nop())

	hc.checkAll(context.Background())
	if !p.Servers()[0].Healthy() {
		t.Fatal("server marked unhealthy despite matching configured expected_status")
	}
}

func TestStatusExpectedDefaultsTo2xx(t *testing.T) {
	t.Parallel()

	if !statusExpected(200, nil) {
		t.Error("statusExpected(200, nil) = false, want true")
	}
	if statusExpected(500, nil) {
		t.Error("statusExpected(500, nil) = true, want false")
	}
}

func TestHealthCheckerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	p := NewPool("chatserver", UpstreamConfig{Servers: []string{backend.URL}})
	cfg := HealthCheckConfig{Interval: 5 * time.Millisecond, Timeout: time.Second, Path: "/health"}
	hc := NewHealthChecker(p, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hc.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
