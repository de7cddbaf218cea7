package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Iron-Ham/stagehand/internal/orchestrator/runner"
)

func TestRecorder_SlotFinished(t *testing.T) {
	r := New()
	r.SlotFinished("main", runner.SlotCompleted, 10*time.Millisecond)
	r.SlotFinished("main", runner.SlotCompleted, 20*time.Millisecond)
	r.SlotFinished("main", runner.SlotFailed, time.Millisecond)
	r.SlotFinished("main", runner.SlotSkipped, 0)

	tests := []struct {
		status runner.SlotStatus
		want   float64
	}{
		{runner.SlotCompleted, 2},
		{runner.SlotFailed, 1},
		{runner.SlotSkipped, 1},
		{runner.SlotCancelled, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got := testutil.ToFloat64(r.slots.WithLabelValues("main", string(tt.status)))
			if got != tt.want {
				t.Errorf("slots{%s} = %v, want %v", tt.status, got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(r.slotDuration); n != 1 {
		t.Errorf("slotDuration series = %d, want 1", n)
	}
}

func TestRecorder_RunLifecycle(t *testing.T) {
	r := New()
	r.RunStarted(3)
	r.ProgressPublished("main", 0.5)
	r.RunFinished(ResultReady, time.Second)
	r.RunFinished(ResultCancelled, time.Second)
	r.InstanceDestroyed(nil)
	r.InstanceDestroyed(errors.New("stuck"))

	if got := testutil.ToFloat64(r.generation); got != 3 {
		t.Errorf("generation = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.progress.WithLabelValues("main")); got != 0.5 {
		t.Errorf("progress = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(r.runs.WithLabelValues(ResultCancelled)); got != 1 {
		t.Errorf("cancelled runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.destroyed.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed teardowns = %v, want 1", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.RunFinished(ResultReady, 2*time.Second)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`stagehand_runs_total{result="ready"} 1`,
		"stagehand_run_seconds_count 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
