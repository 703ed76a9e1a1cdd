package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields propagated through the call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldPhotoID is the photo the work item belongs to
	FieldPhotoID = "photo_id"

	// FieldJobID is the pipeline job ID
	FieldJobID = "job_id"

	// FieldTier is the pipeline tier (instant, fast, deep, face, reanalyze)
	FieldTier = "tier"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldOwnerID is the photo owner
	FieldOwnerID = "owner_id"
)

// Standard metric fields used for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is the response body size in bytes
	FieldSize = "size"
)
