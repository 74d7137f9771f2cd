/*
Copyright 2024 The Monomi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package vterrors provides simple coded error handling for the planner.
//
// Errors created by this package carry a Code that callers can use to
// distinguish hard infeasibility (the candidate onion set cannot answer the
// statement) from internal invariant violations. Wrapping preserves the code
// of the innermost coded error.
package vterrors

import (
	"fmt"
	"io"
)

// New returns an error with the supplied message and code.
func New(code ErrorCode, message string) error {
	return &fundamental{
		msg:  message,
		code: code,
	}
}

// Errorf formats according to a format specifier and returns the string
// as a value that satisfies error.
func Errorf(code ErrorCode, format string, args ...any) error {
	return &fundamental{
		msg:  fmt.Sprintf(format, args...),
		code: code,
	}
}

// fundamental is an error that has a message and a code, but no caused-by.
type fundamental struct {
	msg  string
	code ErrorCode
}

func (f *fundamental) Error() string { return f.msg }

func (f *fundamental) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			panicIfError(io.WriteString(s, "Code: "+f.code.String()+"\n"))
			panicIfError(io.WriteString(s, f.msg+"\n"))
			return
		}
		fallthrough
	case 's':
		panicIfError(io.WriteString(s, f.msg))
	case 'q':
		panicIfError(fmt.Fprintf(s, "%q", f.msg))
	}
}

// Code returns the error code if it's a coded error. If not, it returns
// Unknown for non-nil errors, and OK for nil.
func Code(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	if err, ok := err.(*fundamental); ok {
		return err.code
	}
	if err, ok := err.(*wrapping); ok {
		return Code(err.Cause())
	}
	if cause := RootCause(err); cause != nil && cause != err {
		return Code(cause)
	}
	return CodeUnknown
}

// Wrap returns an error annotating err with a message.
// If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrapping{
		cause: err,
		msg:   message,
	}
}

// Wrapf returns an error annotating err with the format specifier.
// If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapping{
		cause: err,
		msg:   fmt.Sprintf(format, args...),
	}
}

type wrapping struct {
	cause error
	msg   string
}

func (w *wrapping) Error() string { return w.msg + ": " + w.cause.Error() }
func (w *wrapping) Cause() error  { return w.cause }
func (w *wrapping) Unwrap() error { return w.cause }

func (w *wrapping) Format(s fmt.State, verb rune) {
	if rune('v') == verb && s.Flag('+') {
		panicIfError(fmt.Fprintf(s, "%v\n", w.Cause()))
		panicIfError(io.WriteString(s, w.msg))
		return
	}
	panicIfError(io.WriteString(s, w.Error()))
}

func panicIfError(_ any, err error) {
	if err != nil {
		panic(err)
	}
}

// RootCause returns the underlying cause of the error, if possible.
// An error value has a cause if it implements the following
// interface:
//
//	type causer interface {
//	       Cause() error
//	}
//
// If the error does not implement Cause, the original error will
// be returned.
func RootCause(err error) error {
	for err != nil {
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return err
}
