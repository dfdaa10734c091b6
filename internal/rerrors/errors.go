// Package rerrors is a drop-in replacement for Go's errors package,
// adapted from Xray-core's common/errors package: chainable severity and
// an inner cause, without pulling in its session/context-id plumbing.
package rerrors

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/relaymesh/relaymesh/internal/rlog"
)

const trimPrefix = "github.com/relaymesh/relaymesh/"

type hasInnerError interface {
	Unwrap() error
}

type hasSeverity interface {
	Severity() rlog.Severity
}

// Error is an error object carrying an optional inner cause and severity.
type Error struct {
	message  []interface{}
	caller   string
	inner    error
	severity rlog.Severity
}

// New returns a new error with a message formed from the given arguments.
func New(msg ...interface{}) *Error {
	return &Error{
		message:  msg,
		severity: rlog.SeverityInfo,
		caller:   caller(1),
	}
}

func caller(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	name := runtime.FuncForPC(pc).Name()
	name = strings.TrimPrefix(name, trimPrefix)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

func (e *Error) Error() string {
	b := strings.Builder{}
	if e.caller != "" {
		b.WriteString(e.caller)
		b.WriteString(": ")
	}
	b.WriteString(concat(e.message...))
	if e.inner != nil {
		b.WriteString(" > ")
		b.WriteString(e.inner.Error())
	}
	return b.String()
}

func concat(parts ...interface{}) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	return strings.Join(strs, "")
}

// Unwrap implements hasInnerError.
func (e *Error) Unwrap() error {
	return e.inner
}

// Base attaches an underlying cause.
func (e *Error) Base(inner error) *Error {
	e.inner = inner
	return e
}

func (e *Error) atSeverity(s rlog.Severity) *Error {
	e.severity = s
	return e
}

// AtDebug/AtInfo/AtWarning/AtError tag this error's severity.
func (e *Error) AtDebug() *Error   { return e.atSeverity(rlog.SeverityDebug) }
func (e *Error) AtInfo() *Error    { return e.atSeverity(rlog.SeverityInfo) }
func (e *Error) AtWarning() *Error { return e.atSeverity(rlog.SeverityWarning) }
func (e *Error) AtError() *Error   { return e.atSeverity(rlog.SeverityError) }

// Severity returns the deepest (lowest) severity along the cause chain.
func (e *Error) Severity() rlog.Severity {
	if e.inner == nil {
		return e.severity
	}
	if s, ok := e.inner.(hasSeverity); ok {
		if inner := s.Severity(); inner < e.severity {
			return inner
		}
	}
	return e.severity
}

// WriteToLog records this error through rlog at its tagged severity.
func (e *Error) WriteToLog(ctx context.Context) {
	rlog.Record(e.Severity(), e.Error())
}

// Cause walks the Unwrap chain down to the root error.
func Cause(err error) error {
	for {
		inner, ok := err.(hasInnerError)
		if !ok {
			return err
		}
		next := inner.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
