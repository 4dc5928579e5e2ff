package dataset

import "fmt"

// #region codes

// Code classifies why a raw table was rejected.
type Code string

const (
	CodeUnreadable       Code = "unreadable"
	CodeEmpty            Code = "empty_input"
	CodeMissingLabel     Code = "missing_label_column"
	CodeMissingLabelCell Code = "missing_label_value"
	CodeTooFewClasses    Code = "too_few_classes"
	CodeNonNumeric       Code = "non_numeric_feature"
	CodeNoFeatures       Code = "no_numeric_features"
	CodeNoRowsRetained   Code = "no_rows_retained"
	CodeDuplicateFeature Code = "duplicate_feature"
	CodeBadHeader        Code = "bad_header"
	CodeBadFilter        Code = "bad_label_filter"
)

// #endregion codes

// #region error

// Error is a validation failure raised while loading or preparing a table.
// All of them are input errors: fatal to the job, never retried.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return e.Msg
}

// Is matches on Code so callers can test against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrUnreadable       = &Error{Code: CodeUnreadable}
	ErrEmpty            = &Error{Code: CodeEmpty}
	ErrMissingLabel     = &Error{Code: CodeMissingLabel}
	ErrMissingLabelCell = &Error{Code: CodeMissingLabelCell}
	ErrTooFewClasses    = &Error{Code: CodeTooFewClasses}
	ErrNonNumeric       = &Error{Code: CodeNonNumeric}
	ErrNoFeatures       = &Error{Code: CodeNoFeatures}
	ErrNoRowsRetained   = &Error{Code: CodeNoRowsRetained}
	ErrDuplicateFeature = &Error{Code: CodeDuplicateFeature}
	ErrBadHeader        = &Error{Code: CodeBadHeader}
	ErrBadFilter        = &Error{Code: CodeBadFilter}
)

// #endregion error
