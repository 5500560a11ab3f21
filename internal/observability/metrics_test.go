package observability

import (
	"testing"
	"time"

	"github.com/danmuck/boxctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordCommand("host", "spawn", "ok")
	RecordQueryFetch("containers", "success", 24*time.Millisecond)
	RecordQueryStale("containers")
}

func TestTaskTransitionsMoveActiveGauge(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(tasksActive)

	RecordTaskTransition("pending", false)
	RecordTaskTransition("executing", false)
	if got := testutil.ToFloat64(tasksActive); got != before+1 {
		t.Fatalf("expected active gauge %v, got %v", before+1, got)
	}

	RecordTaskTransition("successful", true)
	if got := testutil.ToFloat64(tasksActive); got != before {
		t.Fatalf("expected active gauge back at %v, got %v", before, got)
	}
}
