package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryConfig            Category = "config"
	CategoryUnsupportedFormat Category = "unsupported_format"
	CategoryFormatDetection   Category = "format_detection"
	CategoryOperator          Category = "operator"
	CategoryKeyNotFound       Category = "key_not_found"
	CategoryStorage           Category = "storage"
	CategoryInput             Category = "input"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Newf creates a non-retryable ProcessingError from a format string.
func Newf(category Category, op string, format string, args ...any) *ProcessingError {
	return New(category, op, fmt.Errorf(format, args...))
}

// Transient creates a retryable ProcessingError in the given category.
func Transient(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.  A nil err yields nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.  The
// outermost ProcessingError decides, so an operator error that wraps a
// storage failure reports CategoryOperator only.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of the outermost ProcessingError in err's
// chain, or the empty string.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

func IsConfiguration(err error) bool     { return IsCategory(err, CategoryConfig) }
func IsUnsupportedFormat(err error) bool { return IsCategory(err, CategoryUnsupportedFormat) }
func IsFormatDetection(err error) bool   { return IsCategory(err, CategoryFormatDetection) }
func IsOperator(err error) bool          { return IsCategory(err, CategoryOperator) }
func IsKeyNotFound(err error) bool       { return IsCategory(err, CategoryKeyNotFound) }
func IsStorage(err error) bool           { return IsCategory(err, CategoryStorage) }

// Sentinel errors for common failure modes.
var (
	ErrDuplicateRegistration = errors.New("mime type already registered")
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrUndetectableFormat    = errors.New("format could not be detected")
	ErrAmbiguousFormat       = errors.New("format is ambiguous")
	ErrContradictoryFormat   = errors.New("stated format contradicts content")
	ErrInvalidDimensions     = errors.New("invalid dimensions")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrKeyNotFound           = errors.New("key not found")
	ErrEmptyInput            = errors.New("empty input")
	ErrInputTooLarge         = errors.New("input exceeds size limit")
	ErrCorruptStore          = errors.New("store file is corrupt")
	ErrNilAsset              = errors.New("nil asset")
	ErrNoMetadata            = errors.New("no metadata block present")
)
