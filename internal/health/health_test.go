package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != StatusOK {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}

	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}

	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestChecker_SetComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("source", true, "synthetic")

	status := checker.GetStatus()

	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	source, ok := status.Components["source"]
	if !ok {
		t.Fatal("expected source component")
	}

	if !source.Healthy {
		t.Error("expected source to be healthy")
	}

	if source.Message != "synthetic" {
		t.Errorf("expected message 'synthetic', got %s", source.Message)
	}
}

func TestChecker_Status(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]bool
		want   string
	}{
		{"all up", map[string]bool{"source": true, "uplink": true}, StatusOK},
		{"one down", map[string]bool{"source": true, "uplink": false}, StatusDegraded},
		{"all down", map[string]bool{"source": false, "uplink": false}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("1.0.0")
			for name, healthy := range tt.states {
				checker.SetComponent(name, healthy, "")
			}

			if got := checker.GetStatus().Status; got != tt.want {
				t.Errorf("expected status %s, got %s", tt.want, got)
			}
			if checker.IsHealthy() != (tt.want == StatusOK) {
				t.Errorf("IsHealthy() disagrees with status %s", tt.want)
			}
		})
	}
}

func TestChecker_Recovery(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("source", false, "error")

	if checker.IsHealthy() {
		t.Error("expected unhealthy")
	}

	checker.SetComponent("source", true, "recovered")

	if !checker.IsHealthy() {
		t.Error("expected healthy after recovery")
	}
}

func TestChecker_Probes(t *testing.T) {
	checker := NewChecker("1.0.0")

	var up atomic.Bool
	up.Store(true)
	checker.Register("uplink", func() (bool, string) {
		if up.Load() {
			return true, "connected"
		}
		return false, "disconnected"
	})

	if !checker.IsHealthy() {
		t.Fatal("expected probe to run on register")
	}

	up.Store(false)
	checker.Refresh()

	check := checker.GetStatus().Components["uplink"]
	if check.Healthy || check.Message != "disconnected" {
		t.Errorf("expected refreshed probe state, got %+v", check)
	}
}

func TestChecker_Watch(t *testing.T) {
	checker := NewChecker("1.0.0")

	var calls atomic.Int32
	checker.Register("source", func() (bool, string) {
		calls.Add(1)
		return true, ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	checker.Watch(ctx, 10*time.Millisecond)

	if calls.Load() < 3 {
		t.Errorf("expected periodic refresh, got %d probe calls", calls.Load())
	}
}
