package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

/*
Error aggregates wrapped errors and free-form messages into a single error
value. Errs participate in errors.Is/As through Unwrap.
*/
type Error struct {
	Kind Kind
	Errs []error
	Msgs []any
}

/*
NewError builds an Error from any mix of errors, strings and a Kind. Values
of other types are ignored.
*/
func NewError(errs ...any) error {
	err := &Error{}

	for _, msg := range errs {
		switch v := msg.(type) {
		case Kind:
			err.Kind = v
		case error:
			err.Errs = append(err.Errs, v)
		case string:
			err.Msgs = append(err.Msgs, v)
		}
	}

	return err
}

/*
Wrap classifies err under kind and attaches optional context messages.
A nil err yields nil so call sites can wrap unconditionally.
*/
func Wrap(kind Kind, err error, msgs ...string) error {
	if err == nil {
		return nil
	}

	out := &Error{Kind: kind, Errs: []error{err}}

	for _, msg := range msgs {
		out.Msgs = append(out.Msgs, msg)
	}

	return out
}

/*
New creates a classified error from a message.
*/
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Errs: []error{fmt.Errorf(format, args...)}}
}

func (err *Error) Error() string {
	parts := make([]string, 0, len(err.Errs)+len(err.Msgs))

	for _, msg := range err.Msgs {
		parts = append(parts, fmt.Sprintf("%v", msg))
	}

	for _, e := range err.Errs {
		parts = append(parts, e.Error())
	}

	return strings.Join(parts, ": ")
}

func (err *Error) Unwrap() []error {
	return err.Errs
}

/*
KindOf walks the error chain and returns the first explicit classification.
Sentinels carry their own kind, anything else is treated as transient.
*/
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var classified *Error

	if stderrors.As(err, &classified) && classified.Kind != KindUnknown {
		return classified.Kind
	}

	for sentinel, kind := range sentinelKinds {
		if stderrors.Is(err, sentinel) {
			return kind
		}
	}

	return KindTransient
}

/*
IsFatal reports whether err must never be retried.
*/
func IsFatal(err error) bool {
	return KindOf(err) == KindFatalConfig
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
