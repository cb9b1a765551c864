package vesting

import (
	"errors"
	"math/big"
	"testing"

	uuid "github.com/kthomas/go.uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBeneficiary(t *testing.T, b byte) account.Address {
	id := make([]byte, account.IDLength)
	id[account.IDLength-1] = b
	addr, err := account.NewAddress(42, id)
	require.NoError(t, err)
	return addr
}

func testID(t *testing.T) uuid.UUID {
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return id
}

func testSchedule(t *testing.T, total int64, start, end, period uint64) *Schedule {
	schedule, err := newSchedule(testID(t), 1, testBeneficiary(t, 1), big.NewInt(total), start, end, period)
	require.NoError(t, err)
	return schedule
}

func TestUnlockedAmountAtReleasing(t *testing.T) {
	schedule := testSchedule(t, 1000, 100, 200, 10)

	assert.Equal(t, "100", schedule.PerPeriod().String())
	assert.Equal(t, StateReleasing, schedule.StateAt(150))
	assert.Equal(t, "500", UnlockedAmountAt(schedule, 150).String())
	assert.Equal(t, "500", UnlockedAmountAt(schedule, 159).String())
	assert.Equal(t, "0", UnlockedAmountAt(schedule, 100).String())
	assert.Equal(t, "900", UnlockedAmountAt(schedule, 199).String())
}

func TestUnlockedAmountAtBoundaries(t *testing.T) {
	schedule := testSchedule(t, 1000, 100, 200, 10)

	assert.Equal(t, StateUnstarted, schedule.StateAt(99))
	assert.Equal(t, "0", schedule.UnlockedAmountAt(0).String())
	assert.Equal(t, "0", schedule.UnlockedAmountAt(99).String())

	assert.Equal(t, StateFullyReleased, schedule.StateAt(200))
	assert.Equal(t, "1000", schedule.UnlockedAmountAt(200).String())
	assert.Equal(t, "1000", schedule.UnlockedAmountAt(1<<40).String())
}

func TestUnlockedAmountAtRemainderReleasedAtEnd(t *testing.T) {
	// 1000 over 3 periods releases 333 per period; the remainder is released at end
	schedule := testSchedule(t, 1000, 0, 30, 10)

	assert.Equal(t, "333", schedule.PerPeriod().String())
	assert.Equal(t, "666", schedule.UnlockedAmountAt(29).String())
	assert.Equal(t, "1000", schedule.UnlockedAmountAt(30).String())
}

func TestUnlockedAmountAtPartialFinalPeriod(t *testing.T) {
	// a 25 unit duration with period 10 spans 3 periods
	schedule := testSchedule(t, 300, 0, 25, 10)

	assert.Equal(t, "100", schedule.PerPeriod().String())
	assert.Equal(t, "200", schedule.UnlockedAmountAt(24).String())
	assert.Equal(t, "300", schedule.UnlockedAmountAt(25).String())
}

func TestNewScheduleRejectsInvalidParameters(t *testing.T) {
	alice := testBeneficiary(t, 1)
	id := testID(t)

	cases := []struct {
		name   string
		total  *big.Int
		start  uint64
		end    uint64
		period uint64
	}{
		{"zero total", big.NewInt(0), 0, 10, 1},
		{"negative total", big.NewInt(-5), 0, 10, 1},
		{"nil total", nil, 0, 10, 1},
		{"start equals end", big.NewInt(100), 10, 10, 1},
		{"start after end", big.NewInt(100), 20, 10, 1},
		{"zero period", big.NewInt(100), 0, 10, 0},
		{"zero per period", big.NewInt(9), 0, 10, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newSchedule(id, 1, alice, tc.total, tc.start, tc.end, tc.period)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidScheduleParameters))
			assert.Contains(t, err.Error(), id.String())
		})
	}

	_, err := newSchedule(id, 1, account.Address{}, big.NewInt(100), 0, 10, 1)
	assert.True(t, errors.Is(err, common.ErrInvalidScheduleParameters))
}

func TestScheduleAccessorsReturnCopies(t *testing.T) {
	schedule := testSchedule(t, 1000, 100, 200, 10)

	schedule.TotalLocked().SetInt64(1)
	schedule.PerPeriod().SetInt64(1)
	schedule.UnlockedAmountAt(300).SetInt64(1)

	assert.Equal(t, "1000", schedule.TotalLocked().String())
	assert.Equal(t, "100", schedule.PerPeriod().String())
	assert.Equal(t, "1000", schedule.UnlockedAmountAt(300).String())
}

func TestScheduleLock(t *testing.T) {
	schedule := testSchedule(t, 1000, 100, 200, 10)
	lock := schedule.Lock()

	assert.Equal(t, schedule.ID().String(), lock.ScheduleID)
	assert.Equal(t, uint64(1), lock.Version)
	assert.Equal(t, "1000", lock.Locked.String())
	assert.Equal(t, "100", lock.PerPeriod.String())
	assert.Equal(t, uint64(10), lock.PeriodLength)
	assert.Equal(t, uint64(100), lock.StartTime)
	assert.Equal(t, uint64(200), lock.EndTime)
}

func TestScheduleDigestBindsVersion(t *testing.T) {
	v1 := testSchedule(t, 1000, 100, 200, 10)
	v2, err := newSchedule(v1.ID(), 2, v1.Beneficiary(), v1.TotalLocked(), v1.StartTime(), v1.EndTime(), v1.PeriodLength())
	require.NoError(t, err)

	assert.Equal(t, v1.Digest(), v1.Digest())
	assert.NotEqual(t, v1.Digest(), v2.Digest())
}

func scheduleProperties(t *testing.T) *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return gopter.NewProperties(parameters)
}

func TestUnlockedAmountProperties(t *testing.T) {
	properties := scheduleProperties(t)
	alice := testBeneficiary(t, 1)
	id := testID(t)

	build := func(total int64, start, duration, period uint64) *Schedule {
		schedule, err := newSchedule(id, 1, alice, big.NewInt(total), start, start+duration, period)
		if err != nil {
			t.Fatalf("failed to build schedule; %s", err.Error())
		}
		return schedule
	}

	properties.Property("unlocked amount is non-decreasing in time", prop.ForAll(
		func(total int64, start, duration, period, t1, t2 uint64) bool {
			schedule := build(total, start, duration, period)
			if t1 > t2 {
				t1, t2 = t2, t1
			}
			return schedule.UnlockedAmountAt(t1).Cmp(schedule.UnlockedAmountAt(t2)) <= 0
		},
		gen.Int64Range(1000, 1000000000),
		gen.UInt64Range(0, 1000),
		gen.UInt64Range(1, 1000),
		gen.UInt64Range(1, 50),
		gen.UInt64Range(0, 3000),
		gen.UInt64Range(0, 3000),
	))

	properties.Property("nothing is unlocked before start", prop.ForAll(
		func(total int64, start, duration, period, before uint64) bool {
			schedule := build(total, start, duration, period)
			if before >= start {
				return schedule.UnlockedAmountAt(start).Sign() == 0
			}
			return schedule.UnlockedAmountAt(before).Sign() == 0
		},
		gen.Int64Range(1000, 1000000000),
		gen.UInt64Range(0, 1000),
		gen.UInt64Range(1, 1000),
		gen.UInt64Range(1, 50),
		gen.UInt64Range(0, 1000),
	))

	properties.Property("the total is unlocked at and after end", prop.ForAll(
		func(total int64, start, duration, period, after uint64) bool {
			schedule := build(total, start, duration, period)
			return schedule.UnlockedAmountAt(schedule.EndTime()+after).Cmp(big.NewInt(total)) == 0
		},
		gen.Int64Range(1000, 1000000000),
		gen.UInt64Range(0, 1000),
		gen.UInt64Range(1, 1000),
		gen.UInt64Range(1, 50),
		gen.UInt64Range(0, 1000),
	))

	properties.Property("unlocked amount never exceeds the total", prop.ForAll(
		func(total int64, start, duration, period, at uint64) bool {
			schedule := build(total, start, duration, period)
			return schedule.UnlockedAmountAt(at).Cmp(big.NewInt(total)) <= 0
		},
		gen.Int64Range(1000, 1000000000),
		gen.UInt64Range(0, 1000),
		gen.UInt64Range(1, 1000),
		gen.UInt64Range(1, 50),
		gen.UInt64Range(0, 3000),
	))

	properties.TestingRun(t)
}
