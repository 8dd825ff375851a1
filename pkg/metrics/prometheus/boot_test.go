package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ggnet/ggboot/pkg/metrics"
)

func TestNewBootMetrics_DisabledReturnsNil(t *testing.T) {
	metrics.ResetForTesting()

	if m := NewBootMetrics(); m != nil {
		t.Fatal("expected nil collector when metrics are disabled")
	}
}

func TestBootMetrics_Counters(t *testing.T) {
	metrics.ResetForTesting()
	metrics.InitRegistry()
	defer metrics.ResetForTesting()

	m := NewBootMetrics()
	if m == nil {
		t.Fatal("expected collector when metrics are enabled")
	}

	m.RecordSessionStart("success")
	m.RecordSessionStart("success")
	m.RecordSessionStart("error")
	m.RecordSessionEnd("stopped", 90*time.Minute)
	m.RecordSessionEnd("timeout", 20*time.Minute)
	m.SetActiveSessions(3)
	m.RecordBootScriptServed()
	m.RecordConversion("success", 5*time.Minute)

	impl := m.(*bootMetrics)

	if got := testutil.ToFloat64(impl.sessionStarts.WithLabelValues("success")); got != 2 {
		t.Errorf("session starts success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(impl.sessionStarts.WithLabelValues("error")); got != 1 {
		t.Errorf("session starts error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(impl.sessionEnds.WithLabelValues("stopped")); got != 1 {
		t.Errorf("sessions ended stopped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(impl.activeSessions); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(impl.bootScripts); got != 1 {
		t.Errorf("boot scripts served = %v, want 1", got)
	}
	if got := testutil.ToFloat64(impl.conversions.WithLabelValues("success")); got != 1 {
		t.Errorf("conversions success = %v, want 1", got)
	}
}

func TestBootMetrics_NilReceiverIsNoOp(t *testing.T) {
	var m *bootMetrics

	m.RecordSessionStart("success")
	m.RecordSessionEnd("stopped", time.Minute)
	m.SetActiveSessions(1)
	m.RecordBootScriptServed()
	m.RecordConversion("error", time.Second)
}
