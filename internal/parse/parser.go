// Package parse converts raw access-log lines into normalized records.
//
// The source format is one request per line:
//
//	ip [day:hour:minute:second] "METHOD /resource PROTOCOL" status bytes
//
// Fields are separated by single spaces; the timestamp is bracketed and the
// request triple is double-quoted. The field layout is a strict schema
// contract: lines that do not scan into exactly five fields are rejected,
// never realigned.
package parse

import (
	"strconv"
	"strings"

	"github.com/logsift/logsift/internal/record"
)

const fieldCount = 5

// Line parses one raw log line into a Record. The returned error is one of
// the taxonomy types in errors.go; callers attach line numbers themselves.
func Line(line string) (record.Record, error) {
	fields, err := splitFields(line)
	if err != nil {
		return record.Record{}, err
	}

	ts, err := parseTimestamp(fields[1])
	if err != nil {
		return record.Record{}, err
	}

	method, resource, protocol, err := parseRequest(fields[2])
	if err != nil {
		return record.Record{}, err
	}

	status, err := parseStatus(fields[3])
	if err != nil {
		return record.Record{}, err
	}

	bytes := parseBytes(fields[4])

	return record.New(fields[0], ts, method, resource, protocol, status, bytes), nil
}

// Lines parses a batch of raw lines. Well-formed lines produce records in
// input order; failures are collected with absolute line numbers, where the
// first element of lines sits at line number start.
func Lines(lines []string, start int) ([]record.Record, []LineError) {
	records := make([]record.Record, 0, len(lines))
	var failures []LineError
	for i, line := range lines {
		rec, err := Line(line)
		if err != nil {
			failures = append(failures, LineError{Line: start + i, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, failures
}

// FormatLine renders a record back into the source line format. A record
// with missing bytes serializes the size token as "-". Parsing the returned
// line yields a record equal to the input (cluster labels excepted, which
// have no column in the line format).
func FormatLine(r record.Record) string {
	size := "-"
	if r.Bytes != nil {
		size = strconv.FormatInt(*r.Bytes, 10)
	}
	var b strings.Builder
	b.WriteString(r.IP)
	b.WriteString(" [")
	b.WriteString(r.Timestamp.String())
	b.WriteString(`] "`)
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.Resource)
	b.WriteByte(' ')
	b.WriteString(r.Protocol)
	b.WriteString(`" `)
	b.WriteString(strconv.Itoa(r.Status))
	b.WriteByte(' ')
	b.WriteString(size)
	return b.String()
}

// splitFields scans a line into its five positional fields. The scan is
// space-delimited except inside double quotes, so the request triple stays
// one field. The enclosing quotes are stripped from the captured field.
func splitFields(line string) ([]string, error) {
	fields := make([]string, 0, fieldCount)
	i := 0
	n := len(line)
	for i < n {
		if line[i] == ' ' {
			i++
			continue
		}
		var field string
		if line[i] == '"' {
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				// Unterminated quote: the scan cannot recover field
				// boundaries past this point.
				return nil, &MalformedLineError{Fields: len(fields)}
			}
			field = line[i+1 : i+1+end]
			i += end + 2
			if i < n && line[i] != ' ' {
				return nil, &MalformedLineError{Fields: len(fields)}
			}
		} else {
			end := strings.IndexByte(line[i:], ' ')
			if end < 0 {
				end = n - i
			}
			field = line[i : i+end]
			i += end
		}
		fields = append(fields, field)
	}
	if len(fields) != fieldCount {
		return nil, &MalformedLineError{Fields: len(fields)}
	}
	return fields, nil
}

func parseTimestamp(token string) (record.ClockTime, error) {
	if len(token) < 2 || token[0] != '[' || token[len(token)-1] != ']' {
		return record.ClockTime{}, &TimestampParseError{Token: token}
	}
	parts := strings.Split(token[1:len(token)-1], ":")
	if len(parts) != 4 {
		return record.ClockTime{}, &TimestampParseError{Token: token}
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return record.ClockTime{}, &TimestampParseError{Token: token}
		}
		vals[i] = v
	}
	ts := record.ClockTime{Day: vals[0], Hour: vals[1], Minute: vals[2], Second: vals[3]}
	if !ts.Valid() {
		return record.ClockTime{}, &TimestampParseError{Token: token}
	}
	return ts, nil
}

func parseRequest(token string) (method, resource, protocol string, err error) {
	parts := strings.Split(token, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", &RequestParseError{Token: token, Tokens: len(parts)}
	}
	return parts[0], parts[1], parts[2], nil
}

func parseStatus(token string) (int, error) {
	v, err := strconv.Atoi(token)
	if err != nil || v < 100 || v > 599 {
		return 0, &StatusParseError{Token: token}
	}
	return v, nil
}

// parseBytes returns the response size, or nil when the token is not a
// non-negative integer. Classic access logs write "-" for unknown sizes;
// anything else unparsable is treated the same way, missing rather than an
// error.
func parseBytes(token string) *int64 {
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}
