// Package camera coordinates camera capture sessions on top of an asynchronous
// capture backend.
//
// A Coordinator owns every Session, the Registry and the StreamSinkBroker, and
// mutates them from a single goroutine started by Run. Capture backends report
// completions, frames and failures from their own goroutines through a
// CaptureListener; those reports are posted to the coordinator's Bridge and
// applied in order on the coordinator goroutine. Each session admits at most
// one in-flight request per OperationKind, tracked by its PendingResultTable.
//
// Only the Coordinator methods are safe for concurrent use. Session, Registry,
// PendingResultTable and StreamSinkBroker are confined to the coordinator
// goroutine.
package camera
