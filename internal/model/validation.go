package model

// ValidationSeverity grades validation errors.
type ValidationSeverity string

const (
	SevError    ValidationSeverity = "error"
	SevCritical ValidationSeverity = "critical"
)

// ValidationError is a single failed check from the validator pipeline.
type ValidationError struct {
	Field    string
	Code     string
	Message  string
	Severity ValidationSeverity
}

// ValidationWarning is a non-blocking finding; CanProceed tells the caller
// whether executing anyway is reasonable.
type ValidationWarning struct {
	Code       string
	Message    string
	CanProceed bool
}

// ValidationResult is the outcome of validating one operation. The result is
// valid iff Errors is empty; warnings never affect validity.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// Merge appends the errors and warnings of other and recomputes Valid.
func (r *ValidationResult) Merge(other ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Valid = len(r.Errors) == 0
}

// AddError appends an error and marks the result invalid.
func (r *ValidationResult) AddError(field, code, message string, severity ValidationSeverity) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Code: code, Message: message, Severity: severity})
	r.Valid = false
}

// AddWarning appends a warning without affecting validity.
func (r *ValidationResult) AddWarning(code, message string, canProceed bool) {
	r.Warnings = append(r.Warnings, ValidationWarning{Code: code, Message: message, CanProceed: canProceed})
}
