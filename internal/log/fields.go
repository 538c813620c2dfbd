package log

// Common field names for structured logging.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldSheet      = "sheet"
	FieldTeam       = "team"
	FieldAdser      = "adser"
	FieldTab        = "tab"
	FieldView       = "view"
	FieldUsername   = "username"
	FieldRows       = "rows"
	FieldInserted   = "inserted"
	FieldUpdated    = "updated"
)

// Components defines standard component names.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentSync      = "sync"
	ComponentAggregate = "aggregate"
	ComponentStorage   = "storage"
	ComponentSheets    = "sheets"
	ComponentAuth      = "auth"
	ComponentAMQP      = "amqp"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentRunner    = "runner"
)
