package stops

import "fmt"

// NotFoundError is returned by exact lookups of an unknown stop code.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("stop %q not found", e.Code)
}

// SourceUnavailableError reports a stop source that is missing or unreadable.
type SourceUnavailableError struct {
	Path string
	Err  error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("stop source %s unavailable: %v", e.Path, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}
