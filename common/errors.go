/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"strings"
)

// ErrorKind identifies a failure by what went wrong, independent of the message
type ErrorKind string

// ErrorClass groups error kinds by how a caller is expected to react
type ErrorClass string

const (
	ErrorClassValidation ErrorClass = "validation"
	ErrorClassTransient  ErrorClass = "transient"
	ErrorClassTerminal   ErrorClass = "terminal"
	ErrorClassInvariant  ErrorClass = "invariant"
)

const (
	KindInvalidAddressFormat      ErrorKind = "invalid_address_format"
	KindInvalidScheduleParameters ErrorKind = "invalid_schedule_parameters"
	KindProofEmpty                ErrorKind = "proof_empty"
	KindPayloadTooLarge           ErrorKind = "payload_too_large"

	KindTransportUnavailable ErrorKind = "transport_unavailable"
	KindTimeNotYetFinalized  ErrorKind = "time_not_yet_finalized"
	KindTransportError       ErrorKind = "transport_error"
	KindTimedOut             ErrorKind = "timed_out"
	KindSubmissionRejected   ErrorKind = "submission_rejected"

	KindRemoteRejected        ErrorKind = "remote_rejected"
	KindAccountNotFound       ErrorKind = "account_not_found"
	KindRetriesExhausted      ErrorKind = "retries_exhausted"
	KindInvalidLedgerResponse ErrorKind = "invalid_ledger_response"
	KindCancelled             ErrorKind = "cancelled"

	KindInvalidRevision   ErrorKind = "invalid_revision"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindNotFound          ErrorKind = "not_found"
)

// Sentinels for use with errors.Is; any *Error of the same kind matches
var (
	ErrInvalidAddressFormat      = &Error{Kind: KindInvalidAddressFormat}
	ErrInvalidScheduleParameters = &Error{Kind: KindInvalidScheduleParameters}
	ErrProofEmpty                = &Error{Kind: KindProofEmpty}
	ErrPayloadTooLarge           = &Error{Kind: KindPayloadTooLarge}
	ErrTransportUnavailable      = &Error{Kind: KindTransportUnavailable}
	ErrTimeNotYetFinalized       = &Error{Kind: KindTimeNotYetFinalized}
	ErrTransportError            = &Error{Kind: KindTransportError}
	ErrTimedOut                  = &Error{Kind: KindTimedOut}
	ErrSubmissionRejected        = &Error{Kind: KindSubmissionRejected}
	ErrRemoteRejected            = &Error{Kind: KindRemoteRejected}
	ErrAccountNotFound           = &Error{Kind: KindAccountNotFound}
	ErrRetriesExhausted          = &Error{Kind: KindRetriesExhausted}
	ErrInvalidLedgerResponse     = &Error{Kind: KindInvalidLedgerResponse}
	ErrCancelled                 = &Error{Kind: KindCancelled}
	ErrInvalidRevision           = &Error{Kind: KindInvalidRevision}
	ErrInvalidTransition         = &Error{Kind: KindInvalidTransition}
	ErrNotFound                  = &Error{Kind: KindNotFound}
)

// Class returns the taxonomy class of the kind
func (k ErrorKind) Class() ErrorClass {
	switch k {
	case KindInvalidAddressFormat, KindInvalidScheduleParameters, KindProofEmpty, KindPayloadTooLarge:
		return ErrorClassValidation
	case KindTransportUnavailable, KindTimeNotYetFinalized, KindTransportError, KindTimedOut, KindSubmissionRejected:
		return ErrorClassTransient
	case KindInvalidRevision, KindInvalidTransition:
		return ErrorClassInvariant
	default:
		return ErrorClassTerminal
	}
}

// Retryable returns true if a caller may reasonably retry after correcting nothing;
// a rejected submission has unknown effect and must be reconciled first
func (k ErrorKind) Retryable() bool {
	return k.Class() == ErrorClassTransient && k != KindSubmissionRejected
}

// Error is the failure type surfaced by every component; it carries the identifiers
// of the entity involved so a caller can correlate it without re-deriving state
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`

	Address         string `json:"address,omitempty"`
	ScheduleID      string `json:"schedule_id,omitempty"`
	ScheduleVersion uint64 `json:"schedule_version,omitempty"`
	Target          string `json:"target,omitempty"`
	Sequence        uint64 `json:"sequence,omitempty"`
	AttemptID       string `json:"attempt_id,omitempty"`

	Err error `json:"-"`
}

// NewError returns an error of the given kind with a formatted message
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns an error of the given kind wrapping the underlying cause
func Wrap(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	e := NewError(kind, format, args...)
	e.Err = err
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	ids := make([]string, 0)
	if e.Address != "" {
		ids = append(ids, fmt.Sprintf("address=%s", e.Address))
	}
	if e.ScheduleID != "" {
		ids = append(ids, fmt.Sprintf("schedule=%s", e.ScheduleID))
		ids = append(ids, fmt.Sprintf("version=%d", e.ScheduleVersion))
	}
	if e.Target != "" {
		ids = append(ids, fmt.Sprintf("target=%s", e.Target))
		ids = append(ids, fmt.Sprintf("sequence=%d", e.Sequence))
	}
	if e.AttemptID != "" {
		ids = append(ids, fmt.Sprintf("attempt=%s", e.AttemptID))
	}
	if len(ids) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ids, " "))
		b.WriteString("]")
	}

	if e.Err != nil {
		b.WriteString("; ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithAddress annotates the error with an account address
func (e *Error) WithAddress(address string) *Error {
	e.Address = address
	return e
}

// WithSchedule annotates the error with a schedule id and version
func (e *Error) WithSchedule(id string, version uint64) *Error {
	e.ScheduleID = id
	e.ScheduleVersion = version
	return e
}

// WithEnvelope annotates the error with an envelope target and sequence number
func (e *Error) WithEnvelope(target string, sequence uint64) *Error {
	e.Target = target
	e.Sequence = sequence
	return e
}

// WithAttempt annotates the error with a relay attempt id
func (e *Error) WithAttempt(id string) *Error {
	e.AttemptID = id
	return e
}

// KindOf returns the kind of the given error, or the empty kind if it is not an *Error
func KindOf(err error) ErrorKind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
