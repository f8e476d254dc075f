package log

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds. Every error returned by this package matches exactly one of
// them under errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
	ErrIO          = errors.New("i/o failure")
	ErrTopicExists = errors.New("topic already exists")
	ErrClosed      = errors.New("topic closed")
)

// Error carries enough context about a failed operation for the caller to
// log and act on it.
type Error struct {
	Op     string
	Topic  string
	Offset *uint64
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Topic != "" {
		fmt.Fprintf(&b, " topic=%s", e.Topic)
	}
	if e.Offset != nil {
		fmt.Fprintf(&b, " offset=%d", *e.Offset)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) withTopic(name string) *Error {
	e.Topic = name
	return e
}

func (e *Error) withOffset(off uint64) *Error {
	e.Offset = &off
	return e
}

// ioError wraps a filesystem failure. A nil err yields nil.
func ioError(op string, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return newError(op, ErrIO, errors.Wrapf(err, format, args...))
}

// annotate fills in the topic on a package error; foreign errors are
// classified as I/O failures.
func annotate(err error, topic string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Topic == "" {
			e.Topic = topic
		}
		return e
	}
	return newError("topic", ErrIO, err).withTopic(topic)
}
