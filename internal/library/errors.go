package library

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncomplete is returned when a lookup reaches a group without children
// or a leaf group without a frame. Only libraries from an aborted capture
// session have such branches.
var ErrIncomplete = errors.New("library is incomplete")

// ErrDuplicateEntry is returned when a frame is stored twice at the same
// achieved configuration.
var ErrDuplicateEntry = errors.New("entry already stored")

// QueryError reports a query naming controls the library does not have, or
// omitting controls it does.
type QueryError struct {
	Path        string
	Unsupported []string
	Missing     []string
	Supported   []string
}

func (e *QueryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to get an image from the library %s:", e.Path)
	if len(e.Unsupported) > 0 {
		fmt.Fprintf(&b, " unsupported control(s) %s", strings.Join(e.Unsupported, ", "))
	}
	if len(e.Missing) > 0 {
		if len(e.Unsupported) > 0 {
			b.WriteString(";")
		}
		fmt.Fprintf(&b, " missing value for control(s) %s", strings.Join(e.Missing, ", "))
	}
	fmt.Fprintf(&b, " (supported: %s)", strings.Join(e.Supported, ", "))
	return b.String()
}
