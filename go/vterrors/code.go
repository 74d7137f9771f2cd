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

package vterrors

// ErrorCode classifies an error for the planner's callers.
type ErrorCode int

const (
	// CodeOK means no error.
	CodeOK ErrorCode = iota
	// CodeUnknown is used for errors created outside this package.
	CodeUnknown
	// CodeInvalidArgument indicates the statement itself is malformed
	// (unknown table or column, derived table without an alias, outer
	// reference to a projection, ...).
	CodeInvalidArgument
	// CodeFailedPrecondition indicates the candidate onion set cannot
	// answer a hard clause of the statement; the caller should try the
	// next candidate.
	CodeFailedPrecondition
	// CodeUnimplemented marks constructs the planner deliberately
	// rejects (a wildcard top-level projection, ...).
	CodeUnimplemented
	// CodeInternal indicates a planner bug: an internal invariant did not
	// hold.
	CodeInternal
)

var codeNames = map[ErrorCode]string{
	CodeOK:                 "OK",
	CodeUnknown:            "UNKNOWN",
	CodeInvalidArgument:    "INVALID_ARGUMENT",
	CodeFailedPrecondition: "FAILED_PRECONDITION",
	CodeUnimplemented:      "UNIMPLEMENTED",
	CodeInternal:           "INTERNAL",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}
