package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	writes []string
	fail   error
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func TestGenerate_Count(t *testing.T) {
	var rec recorder
	n, err := generate(context.Background(), &rec, "TEST", time.Millisecond, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"TEST 1", "TEST 2", "TEST 3"}, rec.snapshot())
}

func TestGenerate_StopsOnCancel(t *testing.T) {
	var rec recorder
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int)
	go func() {
		n, _ := generate(ctx, &rec, "MSG", time.Hour, 0)
		done <- n
	}()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.Equal(t, 1, <-done)
	assert.Equal(t, []string{"MSG 1"}, rec.snapshot())
}

func TestGenerate_WriteError(t *testing.T) {
	rec := recorder{fail: errors.New("device gone")}
	n, err := generate(context.Background(), &rec, "TEST", time.Millisecond, 2)
	assert.EqualError(t, err, "device gone")
	assert.Zero(t, n)
}
