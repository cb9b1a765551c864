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

package vesting

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"

	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/ledger"
)

// State of a schedule at a given chain time
type State string

const (
	StateUnstarted     State = "unstarted"
	StateReleasing     State = "releasing"
	StateFullyReleased State = "fully_released"
)

// Schedule is an immutable version of a vesting schedule; revisions produce a new
// version sharing the schedule id
type Schedule struct {
	id           uuid.UUID
	version      uint64
	beneficiary  account.Address
	totalLocked  *big.Int
	perPeriod    *big.Int
	periodLength uint64
	startTime    uint64
	endTime      uint64
}

func newSchedule(id uuid.UUID, version uint64, beneficiary account.Address, totalLocked *big.Int, startTime, endTime, periodLength uint64) (*Schedule, error) {
	invalid := func(format string, args ...interface{}) error {
		return common.NewError(common.KindInvalidScheduleParameters, format, args...).
			WithAddress(beneficiary.String()).
			WithSchedule(id.String(), version)
	}

	if beneficiary.IsZero() {
		return nil, invalid("beneficiary required")
	}
	if totalLocked == nil || totalLocked.Sign() <= 0 {
		return nil, invalid("total locked amount must be positive")
	}
	if startTime >= endTime {
		return nil, invalid("start time %d must precede end time %d", startTime, endTime)
	}
	if periodLength == 0 {
		return nil, invalid("period length must be positive")
	}

	duration := endTime - startTime
	periods := duration / periodLength
	if duration%periodLength != 0 {
		periods++
	}

	perPeriod := new(big.Int).Quo(totalLocked, new(big.Int).SetUint64(periods))
	if perPeriod.Sign() == 0 {
		return nil, invalid("total locked amount %s cannot be released over %d periods", totalLocked.String(), periods)
	}

	return &Schedule{
		id:           id,
		version:      version,
		beneficiary:  beneficiary,
		totalLocked:  new(big.Int).Set(totalLocked),
		perPeriod:    perPeriod,
		periodLength: periodLength,
		startTime:    startTime,
		endTime:      endTime,
	}, nil
}

// ID shared by all versions of the schedule
func (s *Schedule) ID() uuid.UUID {
	return s.id
}

// Version number; the first version is 1
func (s *Schedule) Version() uint64 {
	return s.version
}

// Beneficiary of the locked funds
func (s *Schedule) Beneficiary() account.Address {
	return s.beneficiary
}

// TotalLocked returns a copy of the total locked amount
func (s *Schedule) TotalLocked() *big.Int {
	return new(big.Int).Set(s.totalLocked)
}

// PerPeriod returns a copy of the amount released per elapsed period
func (s *Schedule) PerPeriod() *big.Int {
	return new(big.Int).Set(s.perPeriod)
}

// PeriodLength in chain time units
func (s *Schedule) PeriodLength() uint64 {
	return s.periodLength
}

// StartTime of the release
func (s *Schedule) StartTime() uint64 {
	return s.startTime
}

// EndTime at and after which the total is released
func (s *Schedule) EndTime() uint64 {
	return s.endTime
}

// StateAt returns the state of the schedule at the given chain time
func (s *Schedule) StateAt(t uint64) State {
	switch {
	case t < s.startTime:
		return StateUnstarted
	case t < s.endTime:
		return StateReleasing
	default:
		return StateFullyReleased
	}
}

// UnlockedAmountAt returns the amount released at the given chain time; it is a pure
// function of t, counting only whole elapsed periods and capped at the total
func (s *Schedule) UnlockedAmountAt(t uint64) *big.Int {
	switch s.StateAt(t) {
	case StateUnstarted:
		return new(big.Int)
	case StateFullyReleased:
		return new(big.Int).Set(s.totalLocked)
	}

	elapsed := (t - s.startTime) / s.periodLength
	unlocked := new(big.Int).Mul(new(big.Int).SetUint64(elapsed), s.perPeriod)
	if unlocked.Cmp(s.totalLocked) > 0 {
		return new(big.Int).Set(s.totalLocked)
	}
	return unlocked
}

// UnlockedAmountAt returns the amount of the schedule released at the given chain time
func UnlockedAmountAt(schedule *Schedule, t uint64) *big.Int {
	return schedule.UnlockedAmountAt(t)
}

// Lock returns the ledger representation of the schedule version
func (s *Schedule) Lock() *ledger.VestingLock {
	return &ledger.VestingLock{
		ScheduleID:   s.id.String(),
		Version:      s.version,
		Locked:       s.TotalLocked(),
		PerPeriod:    s.PerPeriod(),
		PeriodLength: s.periodLength,
		StartTime:    s.startTime,
		EndTime:      s.endTime,
	}
}

// Digest returns the sha256 digest of the canonical encoding of the schedule version
func (s *Schedule) Digest() []byte {
	raw, _ := s.MarshalJSON()
	digest := sha256.Sum256(raw)
	return digest[:]
}

type scheduleJSON struct {
	ID           string `json:"id"`
	Version      uint64 `json:"version"`
	Beneficiary  string `json:"beneficiary"`
	TotalLocked  string `json:"total_locked"`
	PerPeriod    string `json:"per_period"`
	PeriodLength uint64 `json:"period_length"`
	StartTime    uint64 `json:"start_time"`
	EndTime      uint64 `json:"end_time"`
}

// MarshalJSON implements json.Marshaler
func (s *Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(&scheduleJSON{
		ID:           s.id.String(),
		Version:      s.version,
		Beneficiary:  s.beneficiary.String(),
		TotalLocked:  s.totalLocked.String(),
		PerPeriod:    s.perPeriod.String(),
		PeriodLength: s.periodLength,
		StartTime:    s.startTime,
		EndTime:      s.endTime,
	})
}
