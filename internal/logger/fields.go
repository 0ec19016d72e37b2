package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID is the generation run ID
	FieldRunID = "run_id"

	// FieldDecade is the decade being generated
	FieldDecade = "decade"

	// FieldErrorID is the correlation id shown to the user
	FieldErrorID = "error_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldWorkerID is the dispatcher worker handling a run
	FieldWorkerID = "worker_id"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
