package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSerializesJobsPerKey(t *testing.T) {
	pool := NewPool(4, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, pool.Submit(ctx, Job{
			Key: "trade-1",
			Run: func(ctx context.Context) {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			},
		}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i := 1; i < len(order); i++ {
		assert.Equal(t, order[i-1]+1, order[i], "jobs for the same key must execute in submission order")
	}
}

func TestPoolDistributesAcrossPartitions(t *testing.T) {
	pool := NewPool(8, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	var count int64
	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		wg.Add(1)
		require.NoError(t, pool.Submit(ctx, Job{Key: k, Run: func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		}}))
	}
	wg.Wait()
	assert.Equal(t, int64(len(keys)), count)
}

func TestPartitionForIsStable(t *testing.T) {
	assert.Equal(t, partitionFor("trade-1", 16), partitionFor("trade-1", 16))
}
