// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Outcome label values for request and publish counters.
const (
	// OutcomeSuccess marks a request that completed without error.
	OutcomeSuccess = "success"
	// OutcomeRejected marks a request refused before reaching the capture backend.
	OutcomeRejected = "rejected"
	// OutcomeFailed marks a request the capture backend reported as failed.
	OutcomeFailed = "failed"
	// OutcomeDisposed marks a request abandoned because its camera was disposed.
	OutcomeDisposed = "disposed"
)

// Reason label values for dropped frames and discarded reports.
const (
	// ReasonMailboxFull is used when the coordinator mailbox had no room.
	ReasonMailboxFull = "mailbox_full"
	// ReasonNoSink is used when the camera does not hold the stream sink.
	ReasonNoSink = "no_sink"
	// ReasonSinkFull is used when the sink refused the frame.
	ReasonSinkFull = "sink_full"
	// ReasonRateLimited is used when a subscriber exceeded its frame rate.
	ReasonRateLimited = "rate_limited"
	// ReasonNoPending is used for completions nobody is waiting for.
	ReasonNoPending = "no_pending"
	// ReasonUnknownSession is used for reports about removed cameras.
	ReasonUnknownSession = "unknown_session"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount14 defines 14 exponential buckets.
	BucketCount14 = 14
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
