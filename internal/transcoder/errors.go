package transcoder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedInput marks sources the rendition ladder cannot serve, for
// example a resolution below the smallest rendition or a missing video
// stream. Jobs failing with it are not retried.
var ErrUnsupportedInput = errors.New("unsupported input")

// ProcessError reports an encoder process that exited abnormally. The stderr
// tail is kept for diagnostics.
type ProcessError struct {
	Name   string
	Err    error
	Stderr string
}

func (e *ProcessError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, tail(msg, 400))
}

func (e *ProcessError) Unwrap() error { return e.Err }

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
