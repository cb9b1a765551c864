package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAllocator(t *testing.T) (*Allocator, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return InitAllocator(client), mr
}

func TestNextSequence(t *testing.T) {
	a, mr := testAllocator(t)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		seq, err := a.NextSequence(ctx, "relay-chain", "para-2000")
		require.NoError(t, err)
		assert.Equal(t, i, seq)
	}

	val, err := mr.Get("xchain.sequence.relay-chain.para-2000")
	require.NoError(t, err)
	assert.Equal(t, "3", val)
}

func TestNextSequenceResumesFromPersistedValue(t *testing.T) {
	a, mr := testAllocator(t)
	require.NoError(t, mr.Set("xchain.sequence.relay-chain.para-2000", "41"))

	seq, err := a.NextSequence(context.Background(), "relay-chain", "para-2000")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
}

func TestNextSequenceConcurrentCallers(t *testing.T) {
	a, _ := testAllocator(t)
	ctx := context.Background()

	const callers = 16
	const perCaller = 20

	var wg sync.WaitGroup
	var mutex sync.Mutex
	seen := map[uint64]bool{}
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				seq, err := a.NextSequence(ctx, "relay-chain", "para-2000")
				if err != nil {
					t.Error(err)
					return
				}
				mutex.Lock()
				assert.False(t, seen[seq], "sequence %d allocated twice", seq)
				seen[seq] = true
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, callers*perCaller)
}

func TestNextSequenceUnavailable(t *testing.T) {
	a, mr := testAllocator(t)
	mr.Close()

	_, err := a.NextSequence(context.Background(), "relay-chain", "para-2000")
	assert.Error(t, err)
}
