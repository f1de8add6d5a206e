package core

// AttemptStatus records how a single backend attempt ended.
type AttemptStatus int

const (
	AttemptSucceeded AttemptStatus = iota // Backend executed the operation
	AttemptFailed                         // Backend tried and reported failure
	AttemptSkipped                        // Backend could not express the request; not a failure
)

// String returns the string representation of AttemptStatus
func (s AttemptStatus) String() string {
	switch s {
	case AttemptSucceeded:
		return "succeeded"
	case AttemptFailed:
		return "failed"
	case AttemptSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Attempt is the per-backend record the executor keeps while walking the
// fallback order. Skipped attempts appear in BackendsTried but do not count
// toward FallbackOccurred.
type Attempt struct {
	Backend Backend
	Status  AttemptStatus
	Error   error
}

// ExecutionResult is the aggregate outcome of a unified operation.
type ExecutionResult struct {
	Success bool

	// Data carries operation-specific payload: retrieved text for get-text,
	// base64 PNG for screenshot.
	Data interface{}

	Error error

	// BackendUsed is set only on success.
	BackendUsed *Backend

	// BackendsTried lists every backend visited, in order, including skips.
	BackendsTried []string

	// FallbackOccurred is true iff more than one backend was actually
	// attempted before the first success, or all attempted backends failed.
	FallbackOccurred bool

	// Attempts holds the structured per-backend records for diagnostics.
	Attempts []Attempt
}

// AttemptedCount returns the number of backends actually attempted
// (succeeded or failed), excluding unsupported skips.
func (r *ExecutionResult) AttemptedCount() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Status != AttemptSkipped {
			n++
		}
	}
	return n
}

// ToMap renders the result in the front-end wire shape. The fallback field is
// present only when a fallback occurred; backend is null when nothing succeeded.
func (r *ExecutionResult) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"success":        r.Success,
		"backends_tried": r.BackendsTried,
	}
	if r.Error != nil {
		m["error"] = r.Error.Error()
	} else {
		m["error"] = nil
	}
	if r.BackendUsed != nil {
		m["backend"] = r.BackendUsed.String()
	} else {
		m["backend"] = nil
	}
	if r.Data != nil {
		m["data"] = r.Data
	}
	if r.FallbackOccurred {
		m["fallback"] = true
	}
	return m
}
