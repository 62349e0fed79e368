package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLLMRequest(t *testing.T) {
	before := testutil.ToFloat64(llmErrorsTotal.WithLabelValues("quota"))
	tokensBefore := testutil.ToFloat64(llmTokensTotal.WithLabelValues("prompt"))

	RecordLLMRequest(time.Second, 120, 30, "")
	RecordLLMRequest(time.Second, 999, 999, "quota")

	if got := testutil.ToFloat64(llmErrorsTotal.WithLabelValues("quota")) - before; got != 1 {
		t.Errorf("quota errors delta = %v, want 1", got)
	}
	// Tokens are only counted for successful calls.
	if got := testutil.ToFloat64(llmTokensTotal.WithLabelValues("prompt")) - tokensBefore; got != 120 {
		t.Errorf("prompt tokens delta = %v, want 120", got)
	}
}

func TestRecordAuditWriteFailure(t *testing.T) {
	before := testutil.ToFloat64(auditWriteFailures)
	RecordAuditWriteFailure()
	if got := testutil.ToFloat64(auditWriteFailures) - before; got != 1 {
		t.Errorf("audit failures delta = %v, want 1", got)
	}
}

func TestRecordToolExecution_SkipsZeroDuration(t *testing.T) {
	RecordToolExecution("unit_test_tool", "rejected", 0)
	if got := testutil.ToFloat64(toolExecutionsTotal.WithLabelValues("unit_test_tool", "rejected")); got != 1 {
		t.Errorf("executions = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(toolDuration, "adminpilot_agent_tool_duration_seconds"); n != 0 {
		t.Errorf("duration series = %d, want 0", n)
	}
}
