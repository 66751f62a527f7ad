package inbox

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapPoolStopRunsQueuedWork(t *testing.T) {
	p := newUnwrapPool(1)
	release := make(chan struct{})
	var ran atomic.Int32

	require.True(t, p.submit(func() { <-release; ran.Add(1) }))
	require.True(t, p.submit(func() { ran.Add(1) }))

	done := make(chan struct{})
	go func() {
		p.stop()
		close(done)
	}()

	require.Eventually(t, func() bool {
		return !p.submit(func() {})
	}, time.Second, time.Millisecond)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, int32(2), ran.Load())
}
