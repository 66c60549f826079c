package logging

import "log/slog"

// Field names shared by every component so log queries stay uniform.
const (
	FieldService     = "service"
	FieldRequestID   = "request_id"
	FieldUserID      = "user_id"
	FieldClientKey   = "client_key"
	FieldPolicy      = "policy"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatus      = "status"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldKind        = "kind"
	FieldFileName    = "file_name"
	FieldFileSize    = "file_size"
	FieldRecordID    = "record_id"
	FieldInvestigate = "investigate"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func UserID(id string) slog.Attr {
	return slog.String(FieldUserID, id)
}

// ClientKey is the address-derived key used for rate limiting.
func ClientKey(key string) slog.Attr {
	return slog.String(FieldClientKey, key)
}

func Policy(name string) slog.Attr {
	return slog.String(FieldPolicy, name)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error logs as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}

func Kind(kind string) slog.Attr {
	return slog.String(FieldKind, kind)
}

func FileName(name string) slog.Attr {
	return slog.String(FieldFileName, name)
}

func FileSize(size int64) slog.Attr {
	return slog.Int64(FieldFileSize, size)
}

func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

// Investigate flags a log line as needing human attention.
func Investigate() slog.Attr {
	return slog.Bool(FieldInvestigate, true)
}
