package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpESIRequest, 10*time.Millisecond)
	c.RecordTiming(OpESIRequest, 30*time.Millisecond)
	c.RecordFailure(OpESIRequest, 20*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.ESIRequest)
	assert.Equal(t, int64(3), snap.ESIRequest.Count)
	assert.Equal(t, int64(1), snap.ESIRequest.Errors)
	assert.Equal(t, int64(60), snap.ESIRequest.TotalTimeMs)
	assert.Equal(t, int64(10), snap.ESIRequest.MinTimeMs)
	assert.Equal(t, int64(30), snap.ESIRequest.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.ESIRequest.AvgTimeMs, 0.001)

	assert.Nil(t, snap.DestWrite, "untouched operations have no snapshot")
}

func TestCollectorTime(t *testing.T) {
	c := NewCollector()
	start := time.Now()
	c.Time(OpDestWrite, start, nil)
	c.Time(OpDestWrite, start, errors.New("boom"))

	snap := c.Snapshot()
	require.NotNil(t, snap.DestWrite)
	assert.Equal(t, int64(2), snap.DestWrite.Count)
	assert.Equal(t, int64(1), snap.DestWrite.Errors)

	ops := snap.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, OpDestWrite, ops[0].Name)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpESIRequest, time.Millisecond)
	assert.Empty(t, c.Snapshot().Operations())
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpDestRead, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Snapshot().DestRead.Count)
}
