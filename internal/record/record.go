// Package record defines the normalized access-log record model shared
// across subsystems.
package record

import (
	"fmt"
	"unicode/utf8"
)

// ClockTime is the bracketed day:hour:minute:second timestamp carried by the
// source log format. The format has no month or year, so values order
// correctly only within a single month; callers must not treat them as
// calendar dates.
type ClockTime struct {
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// Valid reports whether every component is inside its field range
// (day 1..31, hour 0..23, minute and second 0..59).
func (t ClockTime) Valid() bool {
	return t.Day >= 1 && t.Day <= 31 &&
		t.Hour >= 0 && t.Hour <= 23 &&
		t.Minute >= 0 && t.Minute <= 59 &&
		t.Second >= 0 && t.Second <= 59
}

// Offset returns the number of seconds since the start of the month,
// usable as an ordering key within one month of data.
func (t ClockTime) Offset() int {
	return (((t.Day-1)*24+t.Hour)*60+t.Minute)*60 + t.Second
}

// String renders the timestamp in the source log form, zero-padded.
func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d:%02d", t.Day, t.Hour, t.Minute, t.Second)
}

// Record is one normalized request entry. A Record is created once at parse
// time; the only later mutation is attaching derived cluster labels.
type Record struct {
	IP        string    `json:"ip"`
	Timestamp ClockTime `json:"timestamp"`
	Method    string    `json:"method"`
	Resource  string    `json:"resource"`
	Protocol  string    `json:"protocol"`
	Status    int       `json:"status"`
	// Bytes is nil when the source logged an unknown size (historically "-").
	Bytes     *int64 `json:"bytes,omitempty"`
	URLLength int    `json:"url_length"`
	// Cluster labels are 1..k and present only for records that carried a
	// complete feature triple when clustering ran.
	ClusterK3 *int `json:"cluster_k3,omitempty"`
	ClusterK6 *int `json:"cluster_k6,omitempty"`
}

// New builds a Record from parsed fields, deriving URLLength. Bytes may be
// nil for a missing size.
func New(ip string, ts ClockTime, method, resource, protocol string, status int, bytes *int64) Record {
	return Record{
		IP:        ip,
		Timestamp: ts,
		Method:    method,
		Resource:  resource,
		Protocol:  protocol,
		Status:    status,
		Bytes:     bytes,
		URLLength: utf8.RuneCountInString(resource),
	}
}

// HasBytes reports whether the response size was present in the source line.
func (r Record) HasBytes() bool {
	return r.Bytes != nil
}

// StatusClass groups the status code into its hundreds class ("2xx", "4xx", ...).
func (r Record) StatusClass() string {
	return fmt.Sprintf("%dxx", r.Status/100)
}

// Equal compares two records field by field, treating pointer fields by
// value rather than by address.
func (r Record) Equal(other Record) bool {
	if r.IP != other.IP ||
		r.Timestamp != other.Timestamp ||
		r.Method != other.Method ||
		r.Resource != other.Resource ||
		r.Protocol != other.Protocol ||
		r.Status != other.Status ||
		r.URLLength != other.URLLength {
		return false
	}
	return int64PtrEqual(r.Bytes, other.Bytes) &&
		intPtrEqual(r.ClusterK3, other.ClusterK3) &&
		intPtrEqual(r.ClusterK6, other.ClusterK6)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
