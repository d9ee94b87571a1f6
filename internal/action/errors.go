package action

import (
	"errors"
	"fmt"
)

// ErrHalt is returned by a terminate without universe: every stream is ended
// and the dispatch loop should stop.
var ErrHalt = errors.New("halt requested")

// ParseError is returned for unknown tokens and malformed arguments.
// Line is the 1-based line number, 0 when the text did not come from a file.
type ParseError struct {
	Line   int
	Token  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Reason
	if e.Token != "" {
		msg = fmt.Sprintf("%q: %s", e.Token, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d: %s", e.Line, msg)
	}
	return "parse error: " + msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
