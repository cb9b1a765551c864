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

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
)

type balanceEntry struct {
	at     uint64
	amount *big.Int
}

type pendingRejection struct {
	reason  string
	applied bool
}

// MemoryLedger is an in-memory ledger holding balance history per account
type MemoryLedger struct {
	mutex       sync.RWMutex
	finalized   uint64
	unavailable bool
	balances    map[account.Address][]balanceEntry
	locks       map[account.Address][]*VestingLock
	rejections  []pendingRejection
}

// NewMemoryLedger initializes an empty in-memory ledger finalized up to the given chain time
func NewMemoryLedger(finalized uint64) *MemoryLedger {
	return &MemoryLedger{
		finalized: finalized,
		balances:  map[account.Address][]balanceEntry{},
		locks:     map[account.Address][]*VestingLock{},
	}
}

// Finalize advances the finalized chain time; it never moves backwards
func (l *MemoryLedger) Finalize(at uint64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if at > l.finalized {
		l.finalized = at
	}
}

// SetUnavailable toggles simulated connectivity failure
func (l *MemoryLedger) SetUnavailable(unavailable bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.unavailable = unavailable
}

// SetBalance records the balance of the account as of the given chain time
func (l *MemoryLedger) SetBalance(address account.Address, at uint64, amount *big.Int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	entries := l.balances[address]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].at >= at })
	entry := balanceEntry{at: at, amount: new(big.Int).Set(amount)}
	if i < len(entries) && entries[i].at == at {
		entries[i] = entry
	} else {
		entries = append(entries, balanceEntry{})
		copy(entries[i+1:], entries[i:])
		entries[i] = entry
	}
	l.balances[address] = entries
}

// RejectNextSubmission causes the next submission to be rejected; when applied is true
// the lock is recorded anyway, simulating a rejection with unknown effect
func (l *MemoryLedger) RejectNextSubmission(reason string, applied bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.rejections = append(l.rejections, pendingRejection{reason: reason, applied: applied})
}

// GetBalance returns the balance of the account at exactly the given chain time
func (l *MemoryLedger) GetBalance(ctx context.Context, address account.Address, at uint64) (*big.Int, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if l.unavailable {
		return nil, ErrUnavailable
	}
	if at > l.finalized {
		return nil, ErrNotFinalized
	}

	entries := l.balances[address]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].at > at })
	if i == 0 {
		return nil, ErrNotFound
	}

	return new(big.Int).Set(entries[i-1].amount), nil
}

// FinalizedTime returns the current finalized chain time
func (l *MemoryLedger) FinalizedTime(ctx context.Context) (uint64, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if l.unavailable {
		return 0, ErrUnavailable
	}
	return l.finalized, nil
}

// SubmitVestingLock records the vesting lock for the beneficiary
func (l *MemoryLedger) SubmitVestingLock(ctx context.Context, beneficiary account.Address, lock *VestingLock) (string, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.unavailable {
		return "", ErrUnavailable
	}

	if len(l.rejections) > 0 {
		rejection := l.rejections[0]
		l.rejections = l.rejections[1:]
		if rejection.applied {
			l.locks[beneficiary] = append(l.locks[beneficiary], copyLock(lock))
		}
		return "", &RejectedError{Reason: rejection.reason}
	}

	l.locks[beneficiary] = append(l.locks[beneficiary], copyLock(lock))

	raw, _ := json.Marshal(lock)
	handle := fmt.Sprintf("0x%s", common.SHA256(beneficiary.String()+string(raw)))
	common.Log.Tracef("recorded vesting lock %s v%d for beneficiary %s; tx: %s", lock.ScheduleID, lock.Version, beneficiary.String(), handle)
	return handle, nil
}

// VestingLocks returns the vesting locks recorded for the beneficiary
func (l *MemoryLedger) VestingLocks(ctx context.Context, beneficiary account.Address) ([]*VestingLock, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if l.unavailable {
		return nil, ErrUnavailable
	}

	locks := make([]*VestingLock, 0, len(l.locks[beneficiary]))
	for _, lock := range l.locks[beneficiary] {
		locks = append(locks, copyLock(lock))
	}
	return locks, nil
}

func copyLock(lock *VestingLock) *VestingLock {
	cp := *lock
	if lock.Locked != nil {
		cp.Locked = new(big.Int).Set(lock.Locked)
	}
	if lock.PerPeriod != nil {
		cp.PerPeriod = new(big.Int).Set(lock.PerPeriod)
	}
	return &cp
}
