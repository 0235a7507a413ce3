package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSteppingClock_Defaults(t *testing.T) {
	clock := NewSteppingClock(time.Time{}, 0)
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())
}

func TestSteppingClock_Set(t *testing.T) {
	clock := NewSteppingClock(Epoch, time.Second)
	later := Epoch.Add(time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Peek())
	assert.Equal(t, later, clock.Now())
	assert.Equal(t, later.Add(time.Second), clock.Peek())
}

func TestSteppingClock_Concurrent(t *testing.T) {
	clock := NewSteppingClock(Epoch, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(50*time.Second), clock.Peek())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "batch-1", ids.Next())
	assert.Equal(t, "batch-2", ids.Next())

	named := NewSequentialIDs("run")
	assert.Equal(t, "run-1", named.Next())
}
