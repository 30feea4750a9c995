package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEverything(t *testing.T) {
	p := NewWorkerPool(4)
	var done atomic.Int64
	for range 200 {
		p.Submit(func() { done.Add(1) })
	}
	p.Close()
	require.EqualValues(t, 200, done.Load())
}

// with a single worker the queue order is the execution order
func TestPoolFIFO(t *testing.T) {
	p := NewWorkerPool(1)
	var mu sync.Mutex
	var order []int
	for i := range 50 {
		p.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	p.Close()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPoolCloseDrains(t *testing.T) {
	p := NewWorkerPool(2)
	var done atomic.Int64
	var wg sync.WaitGroup
	wg.Add(8)
	for range 8 {
		go func() {
			defer wg.Done()
			for range 100 {
				p.Submit(func() { done.Add(1) })
			}
		}()
	}
	wg.Wait()
	p.Close()
	require.EqualValues(t, 800, done.Load())
}

func TestSubmitAfterCloseDropped(t *testing.T) {
	p := NewWorkerPool(1)
	p.Close()
	var done atomic.Int64
	p.Submit(func() { done.Add(1) })
	assert.EqualValues(t, 0, done.Load())
}

func TestCloseTwice(t *testing.T) {
	p := NewWorkerPool(1)
	p.Close()
	p.Close()
}
