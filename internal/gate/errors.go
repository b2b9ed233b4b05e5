package gate

import (
	"errors"
	"fmt"

	"github.com/your-org/eventsphere/internal/quota"
)

// Kind classifies a rejection for the caller.
type Kind int

const (
	// KindClientInput covers malformed or disallowed uploads.
	KindClientInput Kind = iota + 1
	// KindSecurity covers content flagged as malicious.
	KindSecurity
	// KindDependency covers a required collaborator being down.
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindClientInput:
		return "client_input"
	case KindSecurity:
		return "security"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// Reason codes.
const (
	ReasonEmptyFile          = "empty_file"
	ReasonTooLarge           = "file_too_large"
	ReasonInvalidType        = "invalid_type"
	ReasonInvalidExtension   = "invalid_extension"
	ReasonDoubleExtension    = "double_extension"
	ReasonSignatureMismatch  = "signature_mismatch"
	ReasonQuotaExceeded      = "quota_exceeded"
	ReasonVirusDetected      = "virus_detected"
	ReasonScannerUnavailable = "scanner_unavailable"
	ReasonCancelled          = "cancelled"
)

// Error is the single rejection produced by Evaluate.
type Error struct {
	Stage   Stage
	Kind    Kind
	Reason  string
	Message string
	// Signatures is set for virus rejections.
	Signatures []string
	// Quota is set for quota rejections.
	Quota *quota.Decision
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a gate rejection from err.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

func clientErr(stage Stage, reason, format string, args ...any) *Error {
	return &Error{Stage: stage, Kind: KindClientInput, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
