package metrics

import (
	"time"
)

// BootMetrics provides observability for boot session orchestration and
// image conversion.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewBootMetrics()
//	orch.SetMetrics(m)
//
//	// Without metrics (pass nil for zero overhead)
//	orch.SetMetrics(nil)
type BootMetrics interface {
	// RecordSessionStart records a session start attempt.
	//
	// Parameters:
	//   - result: "success" or "error"
	RecordSessionStart(result string)

	// RecordSessionEnd records a finished session with its terminal status
	// and total lifetime.
	//
	// Parameters:
	//   - status: terminal session status ("stopped", "timeout", "error")
	//   - duration: time from session start to teardown
	RecordSessionEnd(status string, duration time.Duration)

	// SetActiveSessions updates the live session gauge.
	SetActiveSessions(count int64)

	// RecordBootScriptServed increments the served boot script counter.
	RecordBootScriptServed()

	// RecordConversion records a completed image conversion.
	//
	// Parameters:
	//   - result: "success" or "error"
	//   - duration: qemu-img run time
	RecordConversion(result string, duration time.Duration)
}
