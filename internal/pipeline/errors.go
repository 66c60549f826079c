package pipeline

import (
	"errors"
	"net/http"

	"github.com/telhawk-systems/tabula/internal/auth"
	"github.com/telhawk-systems/tabula/internal/convert"
	"github.com/telhawk-systems/tabula/internal/history"
)

// Kind is the caller-facing classification of a pipeline failure.
type Kind int

const (
	KindNone Kind = iota
	KindRateLimited
	KindMissingCredential
	KindInvalidCredential
	KindBadRequest
	KindUnsupportedFormat
	KindMalformedInput
	KindUnreadableWorksheet
	KindNoWorksheet
	KindEmptyWorksheet
	// KindPersistenceDegraded never reaches a caller; it only labels logs.
	KindPersistenceDegraded
	KindUnexpectedFailure
)

var kindNames = map[Kind]string{
	KindNone:                "none",
	KindRateLimited:         "rate_limited",
	KindMissingCredential:   "missing_credential",
	KindInvalidCredential:   "invalid_credential",
	KindBadRequest:          "bad_request",
	KindUnsupportedFormat:   "unsupported_format",
	KindMalformedInput:      "malformed_input",
	KindUnreadableWorksheet: "unreadable_worksheet",
	KindNoWorksheet:         "no_worksheet",
	KindEmptyWorksheet:      "empty_worksheet",
	KindPersistenceDegraded: "persistence_degraded",
	KindUnexpectedFailure:   "unexpected_failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrRateLimited is returned by Admit when the budget is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoFile means the upload carried no file part.
	ErrNoFile = errors.New("no file provided")

	// ErrUploadTooLarge means the body exceeded the configured limit.
	ErrUploadTooLarge = errors.New("upload too large")

	// ErrPanic wraps a value recovered from the conversion collaborator.
	ErrPanic = errors.New("conversion panicked")
)

// Caller-facing messages.
const (
	MsgRateLimited         = "Too many requests. Please try again later."
	MsgMissingCredential   = "Authentication required"
	MsgInvalidCredential   = "Invalid authentication token"
	MsgNoFile              = "No file provided"
	MsgUploadTooLarge      = "File is too large"
	MsgUnsupportedFormat   = "Invalid file type. Please upload an Excel file (.xlsx or .xls)"
	MsgMalformedInput      = "Failed to parse Excel file. Please ensure it's a valid Excel file."
	MsgUnreadableWorksheet = "Failed to convert worksheet to JSON"
	MsgNoWorksheet         = "Excel file contains no worksheets"
	MsgEmptyWorksheet      = "Worksheet is empty"
	MsgUnexpected          = "An unknown error occurred during conversion"
	MsgInternal            = "Internal server error"
)

// Classify maps a package error onto a Kind. Persistence errors are
// classified as degraded since they never decide a response.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, auth.ErrMissingCredential):
		return KindMissingCredential
	case errors.Is(err, auth.ErrInvalidCredential):
		return KindInvalidCredential
	case errors.Is(err, ErrNoFile), errors.Is(err, ErrUploadTooLarge):
		return KindBadRequest
	case errors.Is(err, convert.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, convert.ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, convert.ErrUnreadableWorksheet):
		return KindUnreadableWorksheet
	case errors.Is(err, convert.ErrNoWorksheet):
		return KindNoWorksheet
	case errors.Is(err, convert.ErrEmptyWorksheet):
		return KindEmptyWorksheet
	case history.Classify(err) == history.DegradationOwnerMissing:
		return KindPersistenceDegraded
	default:
		return KindUnexpectedFailure
	}
}

// StatusFor returns the HTTP status for a terminal Kind.
func StatusFor(k Kind) int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindMissingCredential, KindInvalidCredential:
		return http.StatusUnauthorized
	case KindBadRequest, KindUnsupportedFormat, KindMalformedInput,
		KindUnreadableWorksheet, KindNoWorksheet, KindEmptyWorksheet:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the caller-facing message for err. Internal detail is
// never included.
func Message(err error) string {
	switch Classify(err) {
	case KindRateLimited:
		return MsgRateLimited
	case KindMissingCredential:
		return MsgMissingCredential
	case KindInvalidCredential:
		return MsgInvalidCredential
	case KindBadRequest:
		if errors.Is(err, ErrUploadTooLarge) {
			return MsgUploadTooLarge
		}
		return MsgNoFile
	case KindUnsupportedFormat:
		return MsgUnsupportedFormat
	case KindMalformedInput:
		return MsgMalformedInput
	case KindUnreadableWorksheet:
		return MsgUnreadableWorksheet
	case KindNoWorksheet:
		return MsgNoWorksheet
	case KindEmptyWorksheet:
		return MsgEmptyWorksheet
	default:
		return MsgInternal
	}
}
