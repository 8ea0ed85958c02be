package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_DropsOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got, "only the newest values MUST survive")
	assert.Equal(t, int64(10), rc.Written())
	assert.Equal(t, int64(7), rc.Overwritten())
}

func TestRingChannel_SendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())
	assert.Equal(t, "b", <-rc.C())
}

func TestRingChannel_CloseIsIdempotent(t *testing.T) {
	rc := New[int](2)
	rc.Close()
	rc.Close()

	assert.False(t, rc.Send(1), "send after close MUST be a no-op")
	_, ok := <-rc.C()
	assert.False(t, ok)
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := New[int](4)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 4, rc.Len(), "buffer MUST stay full and never block")
	assert.Equal(t, int64(800), rc.Written())
	assert.Equal(t, int64(796), rc.Overwritten())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
