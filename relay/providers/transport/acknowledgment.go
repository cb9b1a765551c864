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

package transport

import (
	"errors"
	"fmt"
)

// AcknowledgmentStatus is the outcome of a delivery as reported by the remote
type AcknowledgmentStatus string

const (
	// AcknowledgmentStatusAcknowledged the remote verified and accepted the envelope
	AcknowledgmentStatusAcknowledged AcknowledgmentStatus = "acknowledged"

	// AcknowledgmentStatusPending the remote has not yet reported an outcome
	AcknowledgmentStatusPending AcknowledgmentStatus = "pending"

	// AcknowledgmentStatusRejected the remote refused the envelope
	AcknowledgmentStatusRejected AcknowledgmentStatus = "rejected"

	// AcknowledgmentStatusTimedOut the remote gave up waiting to process the envelope
	AcknowledgmentStatusTimedOut AcknowledgmentStatus = "timed_out"
)

const (
	// RejectionDuplicateSequence the sequence was already delivered by another envelope
	RejectionDuplicateSequence = "duplicate sequence"

	// RejectionInvalidProof the proof is empty or not bound to the payload
	RejectionInvalidProof = "invalid proof"
)

// ErrUnknownHandle is returned when a handle does not identify a delivery
var ErrUnknownHandle = errors.New("unknown delivery handle")

// ErrNotSent is wrapped by a transport when a send failed before the envelope could
// have reached the remote
var ErrNotSent = errors.New("envelope not sent")

type notSentError struct {
	cause error
}

func (e *notSentError) Error() string {
	return fmt.Sprintf("%s; %s", ErrNotSent.Error(), e.cause.Error())
}

func (e *notSentError) Is(target error) bool {
	return target == ErrNotSent
}

func (e *notSentError) Unwrap() error {
	return e.cause
}

// NotSent marks the cause as a failure before the envelope left the sender; the cause
// remains reachable with errors.Is and errors.As
func NotSent(cause error) error {
	if cause == nil {
		return nil
	}
	return &notSentError{cause: cause}
}

// Acknowledgment is the remote's report on a delivery
type Acknowledgment struct {
	Status  AcknowledgmentStatus `json:"status"`
	Receipt []byte               `json:"receipt,omitempty"`
	Reason  string               `json:"reason,omitempty"`
}

// Receipt is the remote's signed-off record of an accepted envelope
type Receipt struct {
	EnvelopeID    string `json:"envelope_id"`
	Sender        string `json:"sender"`
	Target        string `json:"target"`
	Sequence      uint64 `json:"sequence"`
	PayloadDigest []byte `json:"payload_digest"`
}
