package learn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActivityNeverTouchedIsIdle(t *testing.T) {
	a := NewActivity()

	assert.True(t, a.IdleSince(time.Hour))
}

func TestActivityTouchResetsIdle(t *testing.T) {
	a := NewActivity()
	a.Touch()

	assert.False(t, a.IdleSince(time.Minute))
	assert.True(t, a.IdleSince(0))
}

func TestActivityConcurrentTouch(t *testing.T) {
	a := NewActivity()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Touch()
			a.IdleSince(time.Second)
		}()
	}
	wg.Wait()

	assert.False(t, a.IdleSince(time.Minute))
}
