package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldError     = "error"
	FieldCount     = "count"
	FieldBatchID   = "batch_id"
	FieldTxnID     = "txn_id"
	FieldKey       = "key"
	FieldFileName  = "file_name"
	FieldPeriod    = "period"
	FieldStatus    = "status"
	FieldEndpoint  = "endpoint"
	FieldDuration  = "duration_ms"
	FieldMonth     = "month"
	FieldYear      = "year"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentSession    = "session"
	ComponentAPI        = "api"
	ComponentAuth       = "auth"
	ComponentLocalStore = "localstore"
	ComponentEvents     = "events"
	ComponentCache      = "cache"
	ComponentCLI        = "cli"
)
