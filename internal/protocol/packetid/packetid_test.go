package packetid

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_Monotonic(t *testing.T) {
	g := New(100)
	assert.Equal(t, uint32(101), g.Next())
	assert.Equal(t, uint32(102), g.Next())
}

func TestNext_WrapsToOneSkippingZero(t *testing.T) {
	g := New(math.MaxInt32 - 1)
	assert.Equal(t, uint32(math.MaxInt32), g.Next())
	assert.Equal(t, uint32(1), g.Next())
	assert.Equal(t, uint32(2), g.Next())

	g = New(-1)
	assert.Equal(t, uint32(1), g.Next())
}

func TestNext_ConcurrentUnique(t *testing.T) {
	const workers, perWorker = 16, 2000

	// 起点靠近上界，覆盖并发溢出复位
	g := New(math.MaxInt32 - workers*perWorker/2)

	var wg sync.WaitGroup
	results := make(chan uint32, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				results <- g.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint32]struct{}, workers*perWorker)
	for id := range results {
		require.NotZero(t, id)
		require.LessOrEqual(t, id, uint32(math.MaxInt32))
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestDefaultNext_NonZero(t *testing.T) {
	a, b := Next(), Next()
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
}
