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
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/ledger"
)

// Scheduler creates and revises vesting schedules and submits their locks to the ledger
type Scheduler struct {
	ledger       ledger.SubmissionProvider
	repository   Repository
	periodLength uint64
	clock        func() time.Time

	mutex sync.Mutex
	locks map[account.Address]*sync.Mutex
}

// NewScheduler returns a scheduler submitting to the given ledger and persisting
// versions to the given repository
func NewScheduler(submitter ledger.SubmissionProvider, repository Repository) *Scheduler {
	return &Scheduler{
		ledger:       submitter,
		repository:   repository,
		periodLength: common.VestingPeriodLength,
		clock:        time.Now,
		locks:        map[account.Address]*sync.Mutex{},
	}
}

// WithPeriodLength overrides the configured period length
func (s *Scheduler) WithPeriodLength(periodLength uint64) *Scheduler {
	s.periodLength = periodLength
	return s
}

// WithClock overrides the clock used for submission timestamps
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// PeriodLength returns the period length applied to new schedules
func (s *Scheduler) PeriodLength() uint64 {
	return s.periodLength
}

// beneficiaryLock serializes create and revise for a beneficiary
func (s *Scheduler) beneficiaryLock(beneficiary account.Address) *sync.Mutex {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	lock, ok := s.locks[beneficiary]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[beneficiary] = lock
	}
	return lock
}

// CreateSchedule validates and submits version 1 of a new vesting schedule. The submission
// is not idempotent; on failure the version is kept with unknown status and must be
// reconciled before the caller retries
func (s *Scheduler) CreateSchedule(ctx context.Context, beneficiary account.Address, totalLocked *big.Int, startTime, endTime uint64) (*Schedule, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, common.Wrap(common.KindInvalidScheduleParameters, err, "failed to generate schedule id").WithAddress(beneficiary.String())
	}

	schedule, err := newSchedule(id, 1, beneficiary, totalLocked, startTime, endTime, s.periodLength)
	if err != nil {
		return nil, err
	}

	lock := s.beneficiaryLock(beneficiary)
	lock.Lock()
	defer lock.Unlock()

	err = s.submit(ctx, schedule)
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("created vesting schedule %s for beneficiary %s; %s locked from %d to %d", schedule.ID(), beneficiary.String(), totalLocked.String(), startTime, endTime)
	return schedule, nil
}

// ReviseSchedule produces the next version of the schedule with a new end time. It is only
// permitted while the schedule is releasing at now, on the latest accepted version, and never
// when the revision would reduce the amount already unlocked at now
func (s *Scheduler) ReviseSchedule(ctx context.Context, schedule *Schedule, newEndTime, now uint64) (*Schedule, error) {
	lock := s.beneficiaryLock(schedule.Beneficiary())
	lock.Lock()
	defer lock.Unlock()

	invalid := func(format string, args ...interface{}) error {
		return common.NewError(common.KindInvalidRevision, format, args...).
			WithAddress(schedule.Beneficiary().String()).
			WithSchedule(schedule.ID().String(), schedule.Version())
	}

	latest, err := s.repository.Latest(ctx, schedule.ID())
	if err != nil {
		return nil, err
	}
	if latest.Schedule.Version() != schedule.Version() {
		return nil, invalid("version %d has been superseded by version %d", schedule.Version(), latest.Schedule.Version())
	}
	if latest.Status != SubmissionStatusAccepted {
		return nil, invalid("version %d has not been accepted by the ledger; status: %s", schedule.Version(), latest.Status)
	}

	state := schedule.StateAt(now)
	if state != StateReleasing {
		return nil, invalid("schedule is %s at %d; revisions are only permitted while releasing", state, now)
	}

	revised, err := newSchedule(schedule.ID(), schedule.Version()+1, schedule.Beneficiary(), schedule.totalLocked, schedule.StartTime(), newEndTime, schedule.PeriodLength())
	if err != nil {
		return nil, err
	}

	unlocked := schedule.UnlockedAmountAt(now)
	revisedUnlocked := revised.UnlockedAmountAt(now)
	if revisedUnlocked.Cmp(unlocked) < 0 {
		return nil, invalid("end time %d would reduce unlocked amount at %d from %s to %s", newEndTime, now, unlocked.String(), revisedUnlocked.String())
	}

	err = s.submit(ctx, revised)
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("revised vesting schedule %s to version %d; end time %d -> %d", revised.ID(), revised.Version(), schedule.EndTime(), newEndTime)
	return revised, nil
}

// submit persists the version as pending, submits its lock and records the outcome
func (s *Scheduler) submit(ctx context.Context, schedule *Schedule) error {
	err := s.repository.Insert(ctx, &Submission{
		Schedule:    schedule,
		Status:      SubmissionStatusPending,
		SubmittedAt: s.clock(),
	})
	if err != nil {
		return err
	}

	txHandle, err := s.ledger.SubmitVestingLock(ctx, schedule.Beneficiary(), schedule.Lock())
	if err != nil {
		common.Log.Warningf("failed to submit vesting lock for version %d of schedule %s; effect unknown until reconciled; %s", schedule.Version(), schedule.ID(), err.Error())
		updateErr := s.repository.UpdateStatus(ctx, schedule.ID(), schedule.Version(), SubmissionStatusUnknown, nil)
		if updateErr != nil {
			common.Log.Warningf("failed to mark version %d of schedule %s unknown; %s", schedule.Version(), schedule.ID(), updateErr.Error())
		}

		kind := common.KindSubmissionRejected
		if errors.Is(err, ledger.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = common.KindTransportUnavailable
		}
		return common.Wrap(kind, err, "vesting lock submission failed").
			WithAddress(schedule.Beneficiary().String()).
			WithSchedule(schedule.ID().String(), schedule.Version())
	}

	return s.repository.UpdateStatus(ctx, schedule.ID(), schedule.Version(), SubmissionStatusAccepted, &txHandle)
}

// Reconcile resolves a version with unknown submission effect by reading the ledger's locks
// for the beneficiary; versions already accepted or absent are returned as-is
func (s *Scheduler) Reconcile(ctx context.Context, id uuid.UUID) (*Submission, error) {
	latest, err := s.repository.Latest(ctx, id)
	if err != nil {
		return nil, err
	}

	if latest.Status != SubmissionStatusUnknown && latest.Status != SubmissionStatusPending {
		return latest, nil
	}

	schedule := latest.Schedule
	lock := s.beneficiaryLock(schedule.Beneficiary())
	lock.Lock()
	defer lock.Unlock()

	locks, err := s.ledger.VestingLocks(ctx, schedule.Beneficiary())
	if err != nil {
		return nil, common.Wrap(common.KindTransportUnavailable, err, "failed to read vesting locks").
			WithAddress(schedule.Beneficiary().String()).
			WithSchedule(schedule.ID().String(), schedule.Version())
	}

	status := SubmissionStatusAbsent
	for _, l := range locks {
		if l.ScheduleID == schedule.ID().String() && l.Version == schedule.Version() {
			status = SubmissionStatusAccepted
			break
		}
	}

	err = s.repository.UpdateStatus(ctx, schedule.ID(), schedule.Version(), status, nil)
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("reconciled version %d of vesting schedule %s; status: %s", schedule.Version(), schedule.ID(), status)
	latest.Status = status
	return latest, nil
}

// Schedule returns the latest version of a schedule
func (s *Scheduler) Schedule(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return s.repository.Latest(ctx, id)
}

// History returns all versions of a schedule with their audit root
func (s *Scheduler) History(ctx context.Context, id uuid.UUID) (*History, error) {
	versions, err := s.repository.Versions(ctx, id)
	if err != nil {
		return nil, err
	}
	return newHistory(versions)
}
