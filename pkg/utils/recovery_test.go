package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})

	SafeGo(func() {
		close(done)
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function never ran")
	}
}

func TestSafeGo_PanicCallbackRunsAfterDefers(t *testing.T) {
	var order []string
	var mu sync.Mutex
	done := make(chan struct{})

	SafeGo(func() {
		defer func() {
			mu.Lock()
			order = append(order, "defer")
			mu.Unlock()
		}()
		panic("boom")
	}, func(r interface{}, stack []byte) {
		mu.Lock()
		order = append(order, "callback")
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panic callback never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"defer", "callback"}, order)
}

// A WaitGroup counter released by a defer in the goroutine must not be
// released again in the panic callback. This is how shutdown steps use
// SafeGo: the defer alone balances the Add.
func TestSafeGo_SingleWaitGroupDoneOnPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	recovered := make(chan interface{}, 1)
	SafeGo(func() {
		defer wg.Done()
		panic("boom")
	}, func(r interface{}, stack []byte) {
		recovered <- r
	})

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("WaitGroup never released")
	}
	require.Equal(t, "boom", <-recovered)
}
