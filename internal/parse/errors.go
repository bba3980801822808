package parse

import "fmt"

// The parse error taxonomy. Each well-formedness violation gets its own
// type so callers can dispatch with errors.As; all of them are per-line and
// non-fatal to the parse of the file as a whole. A missing bytes token is
// not an error at all, the record is kept with Bytes == nil.

// MalformedLineError reports a line that did not scan into the five
// positional fields (IP, timestamp, request, status, bytes).
type MalformedLineError struct {
	Fields int
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line: scanned %d fields, want %d", e.Fields, fieldCount)
}

// TimestampParseError reports a timestamp field that is not a bracketed
// day:hour:minute:second value within field ranges.
type TimestampParseError struct {
	Token string
}

func (e *TimestampParseError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: want [day:hour:minute:second]", e.Token)
}

// RequestParseError reports a request field that did not split into exactly
// method, resource, and protocol. Lines whose resource contains a literal
// space land here and are rejected rather than repaired.
type RequestParseError struct {
	Token  string
	Tokens int
}

func (e *RequestParseError) Error() string {
	return fmt.Sprintf("invalid request %q: split into %d tokens, want 3", e.Token, e.Tokens)
}

// StatusParseError reports a status field that is not a 3-digit HTTP
// status code.
type StatusParseError struct {
	Token string
}

func (e *StatusParseError) Error() string {
	return fmt.Sprintf("invalid status %q: want a 3-digit HTTP status", e.Token)
}

// LineError ties a per-line parse failure to its 1-based input line number.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap exposes the underlying typed error to errors.Is/As.
func (e LineError) Unwrap() error {
	return e.Err
}
