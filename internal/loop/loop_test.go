package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New()
	go l.Run(ctx)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	var n int
	require.NoError(t, l.Do(ctx, func() { n = len(got) }))
	assert.Equal(t, 100, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopPostFromCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New()
	go l.Run(ctx)

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoopGoReportsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New()
	go l.Run(ctx)

	var mu sync.Mutex
	result := ""
	l.Go(func() {
		v := "fetched"
		l.Post(func() {
			mu.Lock()
			result = v
			mu.Unlock()
		})
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return result == "fetched"
	}, time.Second, time.Millisecond)
}

func TestLoopAfterFunc(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoopDoAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New()
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	err := l.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManualOrdering(t *testing.T) {
	m := NewManual()

	var got []string
	m.Post(func() { got = append(got, "post") })
	m.Go(func() {
		got = append(got, "go")
		m.Post(func() { got = append(got, "done") })
	})
	m.AfterFunc(2*time.Second, func() { got = append(got, "late") })
	m.AfterFunc(time.Second, func() { got = append(got, "early") })

	assert.Equal(t, 3, m.RunPending())
	assert.Equal(t, []string{"go", "post", "done"}, got)
	assert.Equal(t, 2, m.PendingTimers())

	m.Advance(time.Second)
	assert.Equal(t, []string{"go", "post", "done", "early"}, got)
	assert.Equal(t, time.Second, m.Now())

	m.Advance(10 * time.Second)
	assert.Equal(t, []string{"go", "post", "done", "early", "late"}, got)
	assert.Equal(t, []time.Duration{2 * time.Second, time.Second}, m.Delays)
	assert.Equal(t, 0, m.PendingTimers())
}
