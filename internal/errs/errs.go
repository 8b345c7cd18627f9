// Package errs defines the logical error-kind taxonomy used across the
// sync engine. Kinds are categories for classification and logging, not
// distinct Go types: callers use errors.Is against the sentinel values
// below, and adapters wrap underlying causes with fmt.Errorf("...: %w").
package errs

import "errors"

var (
	// ConfigInvalid marks a Bundle or Rule that failed validation.
	// Fatal at startup; fatal per-request when it surfaces from a
	// per-repo override resolution.
	ConfigInvalid = errors.New("config invalid")

	// AuthFailed marks a signature mismatch on ingress (401) or a
	// provider authentication failure. Non-retriable.
	AuthFailed = errors.New("auth failed")

	// SourceTransient marks a provider 5xx or network error. Adapters
	// retry with exponential backoff before this surfaces as a job
	// failure.
	SourceTransient = errors.New("source transient error")

	// SourceMissing marks a fetch that returned no content. Treated as
	// empty content by the pipeline, never as a failure.
	SourceMissing = errors.New("source content missing")

	// ParseFailed marks content that could not be parsed in any known
	// format. Treated as empty content; never fails the job.
	ParseFailed = errors.New("parse failed")

	// SinkTransient marks a datastore connection or timeout error.
	// Same retry discipline as SourceTransient.
	SinkTransient = errors.New("sink transient error")

	// SinkPartial marks a bulk write that reported some per-record
	// failures. The job is marked success-with-errors.
	SinkPartial = errors.New("sink partial failure")

	// Fatal marks an unrecoverable adapter initialization failure. The
	// job fails permanently.
	Fatal = errors.New("fatal adapter error")
)

// Is reports whether err is classified under kind, following wrapped
// causes the same way errors.Is does.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
