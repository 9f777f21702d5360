package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
)

func TestLoop_RunPending(t *testing.T) {
	l := NewLoop(loggers.New(nil))
	var log []int
	l.Schedule(func() {
		log = append(log, 1)
		l.Schedule(func() { log = append(log, 2) })
	})

	assert.Equal(t, 2, l.RunPending())
	assert.Equal(t, []int{1, 2}, log)
	assert.Equal(t, 0, l.Len())
}

func TestLoop_PanicContinues(t *testing.T) {
	var rec loggers.Recorder
	logs := loggers.New(nil)
	logs.Set(rec.Funcs())
	l := NewLoop(logs)

	ran := false
	l.Schedule(func() { panic("task") })
	l.Schedule(func() { ran = true })
	l.RunPending()

	assert.True(t, ran)
	assert.Len(t, rec.Entries(loggers.Error), 1)
}

func TestLoop_RunDrivesRouter(t *testing.T) {
	l := NewLoop(loggers.New(nil))
	var count atomic.Int32
	done := make(chan struct{})
	r := New(func(ev ir.Vector) error {
		if count.Add(1) == 3 {
			close(done)
		}
		return nil
	}, l, loggers.New(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Dispatch(ir.Ev("e")))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events were not drained")
	}

	l.Stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_RunContextCancel(t *testing.T) {
	l := NewLoop(loggers.New(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
}

func TestLoop_RunUntilIdleWaitsForBusy(t *testing.T) {
	l := NewLoop(loggers.New(nil))
	var inFlight atomic.Int32
	var ran atomic.Bool

	inFlight.Add(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Schedule(func() { ran.Store(true) })
		inFlight.Add(-1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := l.RunUntilIdle(ctx, func() bool { return inFlight.Load() > 0 })

	require.NoError(t, err)
	assert.True(t, ran.Load())
}
