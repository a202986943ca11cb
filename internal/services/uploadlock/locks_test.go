package uploadlock

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameUpload(t *testing.T) {
	l := New()
	id := uuid.New()

	unlock := l.Lock(id)
	_, ok := l.TryLock(id)
	assert.False(t, ok)

	other, ok := l.TryLock(uuid.New())
	assert.True(t, ok)
	other()

	unlock()
	again, ok := l.TryLock(id)
	assert.True(t, ok)
	again()
}

func TestLockCounter(t *testing.T) {
	l := New()
	id := uuid.New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(id)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
