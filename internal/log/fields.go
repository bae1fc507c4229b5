package log

import "sort"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldErrorType  = "error_type"
	FieldOperation  = "operation"
	FieldUsername   = "username"
	FieldResource   = "resource"
	FieldMonth      = "month"
	FieldBytes      = "bytes"
	FieldRef        = "ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentAuth      = "auth"
	ComponentFinance   = "finance"
	ComponentTransport = "transport"
	ComponentDispatch  = "dispatch"
	ComponentExport    = "export"
	ComponentEvents    = "events"
	ComponentStorage   = "storage"
	ComponentDevServer = "devserver"
	ComponentTrace     = "trace"
	ComponentRateLimit = "rate_limit"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpRegister = "register"
	OpLogin    = "login"
	OpLogout   = "logout"
	OpFetch    = "fetch"
	OpUpdate   = "update"
	OpRefresh  = "refresh"
	OpExport   = "export"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpMigrate  = "migrate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes mirrors the client error taxonomy
const (
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeEncoding      = "encoding_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeDecode        = "decode_error"
	ErrorTypeApplication   = "application_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeValidation    = "validation_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeInternal      = "internal_error"
)

// Fields collects attributes for a single record. ToSlice emits them in key
// order so text output stays stable.
type Fields map[string]any

func NewFields() Fields {
	return make(Fields)
}

// WithRequest records the inbound request line and caller address.
func (f Fields) WithRequest(method, path, clientIP string) Fields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if clientIP != "" {
		f[FieldClientIP] = clientIP
	}
	return f
}

func (f Fields) WithHTTPResponse(statusCode int, durationMs int64, bytes int) Fields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldBytes] = bytes
	f[FieldSuccess] = statusCode < 400
	return f
}

func (f Fields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(f)*2)
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}
