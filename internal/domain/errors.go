package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the QC domain. Connection-phase sentinels are fatal:
// any of them aborts the session before a single test runs. Per-test
// sentinels are recovered locally and never stop the battery.
var (
	// Connection phase (fatal).
	ErrDeviceNotFound         = fmt.Errorf("device not found")
	ErrConnectFailed          = fmt.Errorf("connect failed")
	ErrServiceNotFound        = fmt.Errorf("service not found")
	ErrCharacteristicNotFound = fmt.Errorf("characteristic not found")
	ErrNotifyEnable           = fmt.Errorf("enable notifications failed")

	// Per-test (recovered).
	ErrCommandWrite = fmt.Errorf("command write failed")
	ErrDecode       = fmt.Errorf("notification decode failed")
	ErrTimeout      = fmt.Errorf("test timed out")

	// Post-verdict.
	ErrPersist = fmt.Errorf("persist failed")

	// Startup.
	ErrInvalidCatalog = fmt.Errorf("invalid catalog")
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")
)

// IsFatal reports whether err belongs to the connection phase and must
// abort the whole session.
func IsFatal(err error) bool {
	for _, sentinel := range []error{
		ErrDeviceNotFound,
		ErrConnectFailed,
		ErrServiceNotFound,
		ErrCharacteristicNotFound,
		ErrNotifyEnable,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Manager.Connect")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeDeviceNotFound  ErrorCode = "DEVICE_NOT_FOUND"
	CodeConnectFailed   ErrorCode = "CONNECT_FAILED"
	CodeServiceNotFound ErrorCode = "SERVICE_NOT_FOUND"
	CodeCharNotFound    ErrorCode = "CHARACTERISTIC_NOT_FOUND"
	CodeNotifyEnable    ErrorCode = "NOTIFY_ENABLE"
	CodeCommandWrite    ErrorCode = "COMMAND_WRITE"
	CodeDecode          ErrorCode = "DECODE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodePersist         ErrorCode = "PERSIST"
	CodeInvalidCatalog  ErrorCode = "INVALID_CATALOG"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrDeviceNotFound:         CodeDeviceNotFound,
	ErrConnectFailed:          CodeConnectFailed,
	ErrServiceNotFound:        CodeServiceNotFound,
	ErrCharacteristicNotFound: CodeCharNotFound,
	ErrNotifyEnable:           CodeNotifyEnable,
	ErrCommandWrite:           CodeCommandWrite,
	ErrDecode:                 CodeDecode,
	ErrTimeout:                CodeTimeout,
	ErrPersist:                CodePersist,
	ErrInvalidCatalog:         CodeInvalidCatalog,
	ErrConfigLoad:             CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error,
// walking the wrap chain with errors.Is. Returns CodeUnknown if no sentinel
// matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
