package errdefs

// Convenience functions for common error patterns

// Pool errors

func PoolUnavailable(url string, cause error) *CoordError {
	return &CoordError{
		Kind:      KindPoolUnavailable,
		Severity:  SeverityWarning,
		Message:   "pool fetch failed",
		Cause:     cause,
		Retryable: true,
		Context:   ContextFields{"url": url},
	}
}

func PoolDecodeFailed(url string, cause error) *CoordError {
	return &CoordError{
		Kind:      KindPoolUnavailable,
		Severity:  SeverityWarning,
		Message:   "pool page decode failed",
		Cause:     cause,
		Retryable: true,
		Context:   ContextFields{"url": url},
	}
}

// Storage errors

func StorageFailed(operation string, cause error) *CoordError {
	return &CoordError{
		Kind:      KindStorage,
		Severity:  SeverityError,
		Message:   "store operation failed",
		Cause:     cause,
		Retryable: true,
		Context:   ContextFields{"operation": operation},
	}
}

// Search process errors

func ProcessCrashed(dispatchID string, exitDetail string, cause error) *CoordError {
	return &CoordError{
		Kind:      KindProcessCrash,
		Severity:  SeverityError,
		Message:   "search process crashed",
		Cause:     cause,
		Retryable: true,
		Context:   ContextFields{"dispatch_id": dispatchID, "exit": exitDetail},
	}
}

func ProcessTimedOut(dispatchID string, cause error) *CoordError {
	return &CoordError{
		Kind:      KindProcessTimeout,
		Severity:  SeverityError,
		Message:   "search process exceeded deadline",
		Cause:     cause,
		Retryable: true,
		Context:   ContextFields{"dispatch_id": dispatchID},
	}
}

// State errors

func CorruptState(path string, cause error) *CoordError {
	return &CoordError{
		Kind:     KindCorruptState,
		Severity: SeverityFatal,
		Message:  "session state unreadable",
		Cause:    cause,
		Context:  ContextFields{"path": path},
	}
}

// Config errors

func ConfigInvalid(field, reason string) *CoordError {
	return New(KindConfigInvalid, SeverityFatal, "configuration invalid").
		WithContext("field", field).
		WithContext("reason", reason)
}

func ConfigNotFound(path string) *CoordError {
	return New(KindConfigInvalid, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}
