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

// Package ledger defines the chain ledger collaborators consumed by the balance
// oracle and vesting scheduler, with in-memory and NATS-backed providers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/provideplatform/xchain/account"
)

// LedgerProviderMemory in-memory ledger provider
const LedgerProviderMemory = "memory"

// LedgerProviderNATS NATS request/reply ledger provider
const LedgerProviderNATS = "nats"

var (
	// ErrNotFound is returned when the account never appeared in the ledger at or before the queried time
	ErrNotFound = errors.New("account not found in ledger")

	// ErrNotFinalized is returned when the queried time exceeds the finalized chain time
	ErrNotFinalized = errors.New("chain time not yet finalized")

	// ErrUnavailable is returned on connectivity failure with the ledger
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrRejected is returned when the ledger rejects a submission
	ErrRejected = errors.New("ledger submission rejected")
)

// RejectedError is a submission rejection with the reason reported by the ledger
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s; %s", ErrRejected.Error(), e.Reason)
}

// Is matches ErrRejected
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// QueryProvider reads historical account state from the ledger
type QueryProvider interface {
	// GetBalance returns the balance of the account at exactly the given chain time
	GetBalance(ctx context.Context, address account.Address, at uint64) (*big.Int, error)

	// FinalizedTime returns the current finalized chain time
	FinalizedTime(ctx context.Context) (uint64, error)
}

// VestingLock is the on-chain representation of a vesting schedule version
type VestingLock struct {
	ScheduleID   string   `json:"schedule_id"`
	Version      uint64   `json:"version"`
	Locked       *big.Int `json:"locked"`
	PerPeriod    *big.Int `json:"per_period"`
	PeriodLength uint64   `json:"period_length"`
	StartTime    uint64   `json:"start_time"`
	EndTime      uint64   `json:"end_time"`
}

// SubmissionProvider submits vesting locks to the ledger; submission is not idempotent
type SubmissionProvider interface {
	// SubmitVestingLock submits the lock transaction and returns its tx handle
	SubmitVestingLock(ctx context.Context, beneficiary account.Address, lock *VestingLock) (string, error)

	// VestingLocks returns the vesting locks recorded for the beneficiary
	VestingLocks(ctx context.Context, beneficiary account.Address) ([]*VestingLock, error)
}

// Provider is a ledger providing both query and submission
type Provider interface {
	QueryProvider
	SubmissionProvider
}
