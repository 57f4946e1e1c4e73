package bitmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetTestClear(t *testing.T) {
	r := require.New(t)

	b := New(128)
	r.Equal(uint64(128), b.Len())
	r.False(b.Test(5))

	b.Set(5)
	r.True(b.Test(5))

	b.Clear(5)
	r.False(b.Test(5))
}

func TestSetRangeTestRange(t *testing.T) {
	r := require.New(t)

	b := New(64)
	r.True(b.TestRange(0, 64))

	b.SetRange(10, 5)
	r.False(b.TestRange(0, 64))
	r.False(b.TestRange(9, 2))
	r.True(b.TestRange(15, 10))
	for i := uint64(10); i < 15; i++ {
		r.True(b.Test(i))
	}
}

func TestTestAndSet(t *testing.T) {
	r := require.New(t)

	b := New(8)
	wasSet := b.TestAndSet(3)
	r.False(wasSet)
	r.True(b.Test(3))

	wasSet = b.TestAndSet(3)
	r.True(wasSet)
}

func TestTestAndSetConcurrentExactlyOneWinner(t *testing.T) {
	r := require.New(t)

	b := New(1)
	const workers = 64

	var wg sync.WaitGroup
	wins := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = !b.TestAndSet(0)
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	r.Equal(1, count)
}

func TestBitmapSpansWordBoundary(t *testing.T) {
	r := require.New(t)

	b := New(130)
	b.Set(63)
	b.Set(64)
	b.Set(129)

	r.True(b.Test(63))
	r.True(b.Test(64))
	r.True(b.Test(129))
	r.False(b.Test(65))
}
