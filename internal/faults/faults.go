package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a fault so callers can decide whether it is isolated to one
// host or fatal for the whole run.
type Code string

const (
	// Connectivity means a remote command could not be dispatched or acknowledged.
	Connectivity Code = "CONNECTIVITY"
	// Timeout means a remote command exceeded its deadline.
	Timeout Code = "TIMEOUT"
	// MissingSnapshot means an expected snapshot file never became available.
	MissingSnapshot Code = "MISSING_SNAPSHOT"
	// CounterRegression means a monotonic counter decreased between snapshots.
	CounterRegression Code = "COUNTER_REGRESSION"
	// ClockMismatch means two snapshots disagree on cycles_per_second.
	ClockMismatch Code = "CLOCK_MISMATCH"
	// MalformedSnapshot means a snapshot cannot be interpreted.
	MalformedSnapshot Code = "MALFORMED_SNAPSHOT"
	// LaunchFailed means the benchmark process could not be started on a host.
	LaunchFailed Code = "LAUNCH_FAILED"
	// NoUsableData means no client-role host survived exclusion.
	NoUsableData Code = "NO_USABLE_DATA"
	// Cancelled means the operator aborted the run.
	Cancelled Code = "CANCELLED"
	// InvalidConfig means the run configuration was rejected before any dispatch.
	InvalidConfig Code = "INVALID_CONFIG"
)

// IsConnectivity reports whether the code belongs to the connectivity family.
func (c Code) IsConnectivity() bool {
	switch c {
	case Connectivity, Timeout, MissingSnapshot:
		return true
	}
	return false
}

// Fault is a classified error carrying the host and field it concerns.
type Fault struct {
	Code    Code
	Host    string
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(f.Code))
	b.WriteString("]")
	if f.Host != "" {
		b.WriteString(" host=")
		b.WriteString(f.Host)
	}
	if f.Field != "" {
		b.WriteString(" field=")
		b.WriteString(f.Field)
	}
	if f.Message != "" {
		b.WriteString(" ")
		b.WriteString(f.Message)
	}
	if f.Cause != nil {
		b.WriteString(": ")
		b.WriteString(f.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (f *Fault) Unwrap() error {
	return f.Cause
}

// Is matches another *Fault with the same code, so errors.Is(err, faults.New(code, ""))
// works as a code check.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == f.Code && t.Host == "" && t.Field == ""
}

// New creates a fault with a formatted message.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ForHost returns a copy of the fault attributed to host.
func (f *Fault) ForHost(host string) *Fault {
	c := *f
	c.Host = host
	return &c
}

// WithField returns a copy of the fault attributed to field.
func (f *Fault) WithField(field string) *Fault {
	c := *f
	c.Field = field
	return &c
}

// CodeOf extracts the fault code from err, or "" when err is not a Fault.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// FieldOf extracts the field attribution from err, or "".
func FieldOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Field
	}
	return ""
}
