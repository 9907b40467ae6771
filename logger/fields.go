package logger

import (
	"time"
)

// Standard field key constants for structured logging.
const (
	FieldComponent  = "component"
	FieldService    = "service"
	FieldInstanceID = "instance_id"
	FieldOperation  = "operation"
	FieldError      = "error"
	FieldDuration   = "duration_ms"

	// connection
	FieldURL     = "url"
	FieldFrom    = "from"
	FieldTo      = "to"
	FieldAttempt = "attempt"
	FieldDelay   = "delay_ms"
	FieldCode    = "code"

	// resolver
	FieldModuleID = "module_id"
	FieldTier     = "tier"
	FieldSource   = "source"

	// client registry
	FieldClientKey = "client_key"

	// recovery
	FieldScope    = "scope"
	FieldClass    = "class"
	FieldIncident = "incident_id"
	FieldCount    = "count"
)

// Fields builds a map[string]any from alternating key-value pairs.
//
//	log.Info("resolved", logger.Fields("module_id", id, "tier", "cdn"))
func Fields(kvs ...any) map[string]any {
	m := make(map[string]any, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an operation that failed.
func ErrorFields(op string, err error) map[string]any {
	return map[string]any{
		FieldOperation: op,
		FieldError:     err.Error(),
	}
}

// DurationFields creates fields for a timed operation.
func DurationFields(op string, d time.Duration) map[string]any {
	return map[string]any{
		FieldOperation: op,
		FieldDuration:  d.Milliseconds(),
	}
}

// MergeWithError adds an error field to an existing map.
func MergeWithError(fields map[string]any, err error) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}
	if err != nil {
		fields[FieldError] = err.Error()
	}
	return fields
}
