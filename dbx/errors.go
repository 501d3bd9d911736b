package dbx

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure. Codes prefixed "CZ" are owned by this
// library and are driver-independent; errors wrapping a driver failure
// carry the driver's SQLSTATE as their code instead, when the driver
// exposes one.
type ErrorCode string

const (
	// CodeFetchUnexecuted is raised when a fetch operation runs against a
	// statement that has no prior successful execution and auto-execute
	// is disabled.
	CodeFetchUnexecuted ErrorCode = "CZ001"

	// CodeMissingColumn is raised when a requested column or struct
	// property is absent from the result row.
	CodeMissingColumn ErrorCode = "CZ002"

	// CodeGroupDepth is raised when a group-by list has no columns or
	// more than the supported three levels.
	CodeGroupDepth ErrorCode = "CZ003"

	// CodeBadParameter is raised when a bind call references an unknown
	// placeholder, when a bound value cannot be coerced to its bind type,
	// or when execution finds a placeholder with no bound value.
	CodeBadParameter ErrorCode = "CZ004"

	// CodeTransactionState is raised on transaction misuse: beginning a
	// transaction while one is open, or committing/rolling back with
	// none open.
	CodeTransactionState ErrorCode = "CZ005"

	// CodeErrorModeLocked is raised when SetAttribute tries to weaken
	// error reporting below strict. Strict error reporting is an
	// invariant of every Connection, not a toggle.
	CodeErrorModeLocked ErrorCode = "CZ096"

	// CodeNoCandidates is raised by a pool lookup for a tag with no
	// registered candidate connections.
	CodeNoCandidates ErrorCode = "CZ097"

	// CodeNoLiveConnection is raised by a pool lookup when every
	// remaining candidate failed its liveness probe.
	CodeNoLiveConnection ErrorCode = "CZ098"

	// CodeEmulationLocked is raised when SetAttribute tries to enable
	// emulated (client-side) statement preparation.
	CodeEmulationLocked ErrorCode = "CZ099"
)

// sqlStateGeneral is the SQLSTATE used when a driver error exposes none.
const sqlStateGeneral = "HY000"

// sqlStateBadParameter is the SQLSTATE for parameter binding mistakes.
const sqlStateBadParameter = "HY093"

// ErrorInfo mirrors the driver's native error triple: the portable
// SQLSTATE, the driver-specific code and the driver's message.
type ErrorInfo struct {
	SQLState string
	Code     string
	Message  string
}

// Error is the error type returned by every operation in this package.
// Statement-related failures carry the original SQL text and, when a
// driver failure caused them, the driver's native error info.
type Error struct {
	// Code is one of the CZ* codes above or, for wrapped driver
	// failures, the driver's SQLSTATE.
	Code ErrorCode

	// Message is the human-readable description.
	Message string

	// Query is the SQL text of the statement involved, if any.
	Query string

	// Info holds the driver's native error info, if available.
	Info *ErrorInfo

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying driver error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates an *Error with one of the library-owned codes.
// It is exported for collaborators (such as connection pools) that
// surface failures through the same taxonomy.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsCode reports whether err is or wraps an *Error carrying code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// AsError extracts the *Error from err's chain, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// sqlStater is implemented by driver errors that expose a SQLSTATE,
// such as pgconn.PgError.
type sqlStater interface {
	SQLState() string
}

// driverCoder is implemented by driver errors that expose a
// driver-specific code as a string.
type driverCoder interface {
	Code() string
}

// wrapDriverError translates a driver failure into an *Error, keeping
// the SQL text and extracting the native error info on a best-effort
// basis. Library errors already carrying a code pass through with the
// query attached if they lack one.
func wrapDriverError(err error, query string) error {
	if err == nil {
		return nil
	}

	var lib *Error
	if errors.As(err, &lib) {
		if lib.Query == "" {
			lib.Query = query
		}
		return lib
	}

	info := &ErrorInfo{
		SQLState: sqlStateGeneral,
		Message:  err.Error(),
	}

	var st sqlStater
	if errors.As(err, &st) {
		if state := st.SQLState(); state != "" {
			info.SQLState = state
		}
	}
	var dc driverCoder
	if errors.As(err, &dc) {
		info.Code = dc.Code()
	}

	return &Error{
		Code:    ErrorCode(info.SQLState),
		Message: err.Error(),
		Query:   query,
		Info:    info,
		cause:   err,
	}
}

// newStatementError creates a configuration error tied to a statement,
// carrying the SQL text and a parameter-binding SQLSTATE.
func newStatementError(code ErrorCode, query, format string, args ...any) *Error {
	e := NewError(code, format, args...)
	e.Query = query
	if code == CodeBadParameter {
		e.Info = &ErrorInfo{
			SQLState: sqlStateBadParameter,
			Message:  e.Message,
		}
	}
	return e
}
