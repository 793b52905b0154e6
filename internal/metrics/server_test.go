package metrics

import (
	"context"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-wavy-control/internal/logging"
)

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return "http://" + s.Addr()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	c, reg := newTestCollector()
	c.SegmentWritten("seg0.ts")

	base := startServer(t, NewServer("127.0.0.1:0", reg, logging.Discard()))

	tests := []struct {
		path string
		want string
	}{
		{"/metrics", "wavy_segments_written_total 1"},
		{"/healthz", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(t, base+tt.path)
			if status != http.StatusOK {
				t.Errorf("status = %d", status)
			}
			if !strings.Contains(body, tt.want) {
				t.Errorf("body missing %q:\n%s", tt.want, body)
			}
		})
	}
}

func TestServer_ReadinessFollowsLiveStages(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, logging.Discard())
	base := startServer(t, s)

	if status, body := get(t, base+"/readyz"); status != http.StatusServiceUnavailable || strings.TrimSpace(body) != "idle" {
		t.Errorf("idle readyz = %d %q", status, body)
	}

	s.StageStarted("Segmenter")
	s.StageStarted("Dispatcher")
	s.StageStarted("Dispatcher")
	s.StageExited("Dispatcher")

	if got, want := s.LiveStages(), []string{"Dispatcher", "Segmenter"}; !reflect.DeepEqual(got, want) {
		t.Errorf("LiveStages() = %v, want %v", got, want)
	}
	if status, body := get(t, base+"/readyz"); status != http.StatusOK || strings.TrimSpace(body) != "running Dispatcher,Segmenter" {
		t.Errorf("running readyz = %d %q", status, body)
	}

	s.StageExited("Segmenter")
	s.StageExited("Dispatcher")
	s.StageExited("Client")
	if got := s.LiveStages(); len(got) != 0 {
		t.Errorf("LiveStages() after exits = %v", got)
	}
}

func TestServer_StartReportsBindError(t *testing.T) {
	first := NewServer("127.0.0.1:0", nil, logging.Discard())
	if err := first.Start(); err != nil {
		t.Fatal(err)
	}
	defer first.Shutdown(context.Background())

	second := NewServer(first.Addr(), nil, logging.Discard())
	if err := second.Start(); err == nil {
		t.Error("expected bind error for an address in use")
	}
}
