package errors

import (
	"fmt"
	"testing"
)

// BenchmarkErrorCreationNoTelemetry tests error creation performance when telemetry is disabled
func BenchmarkErrorCreationNoTelemetry(b *testing.B) {
	SetTelemetryReporter(nil)

	b.ReportAllocs()

	for b.Loop() {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("camera").
			Category(CategoryConflict).
			Build()
	}
}

// BenchmarkErrorCreationWithContext measures the context map allocation
func BenchmarkErrorCreationWithContext(b *testing.B) {
	SetTelemetryReporter(nil)

	b.ReportAllocs()

	for b.Loop() {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("camera").
			Category(CategoryState).
			Context("camera_id", int64(1)).
			Context("operation", "initialize").
			Build()
	}
}
