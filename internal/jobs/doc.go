/*
Package jobs owns the lifecycle of extraction jobs.

A Manager is constructed once at startup and handed to the HTTP layer. It
ties together the persistence store, the per-source dedup mutex, the
artifact cache, the worker pool and the live streaming pipeline.

# State machine

	pending -> processing -> completed | failed
	completed | failed -> expired        (cleanup sweep only)

Every transition is a conditional UPDATE on the current status, so a late
pool event can never overwrite a job the sweep has already expired, and the
sweep never touches a job that is still running.

# Creating a job

CreateJob resolves the source identity, validates parameters and computes
the fingerprint. A cache hit short-circuits into a job that is completed on
creation. Otherwise the dedup lock for the identity is taken; on collision
the most recent completed job with the same fingerprint is returned, or
ErrAlreadyProcessing if there is none. The pending record is committed and
its ID returned before any work starts.

Work continues asynchronously: metadata is probed, the quality policy is
applied once, the job moves to processing and is handed to the execution
strategy selected by its mode (file or api) as a worker pool task. Pool
events drive the remaining transitions; on completion the artifact is added
to the cache, and the dedup lock is released whatever the outcome.

# Streaming

StreamToSink is the third mode. It creates no job record and takes no dedup
lock because it produces no durable artifact; the client's connection is the
only resource it holds, and a disconnect tears the process chain down.

# Cleanup

RunCleanupSweep expires terminal jobs past their expiry (deleting local
artifacts first), drops their cache entries, clears locks no running job
owns, and removes temp directories abandoned by a previous process. Start
runs it on an interval.
*/
package jobs
