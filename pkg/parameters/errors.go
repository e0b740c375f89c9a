package parameters

import (
	"fmt"
	"time"
)

// ParameterNotFoundError is returned when a dotted path names no node of the
// requested shape.
type ParameterNotFoundError struct {
	Path   string
	Reason string
}

func (e ParameterNotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("parameter %s not found: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("parameter %s not found", e.Path)
}

// ParameterUndefinedAtDateError is returned when a parameter exists but has no
// value, interpolation or uprating that applies at the requested date.
type ParameterUndefinedAtDateError struct {
	Path string
	Date time.Time
}

func (e ParameterUndefinedAtDateError) Error() string {
	return fmt.Sprintf("parameter %s undefined at %s", e.Path, e.Date.Format(dateLayout))
}
