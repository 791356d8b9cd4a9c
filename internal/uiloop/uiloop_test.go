package uiloop

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLoopRunsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var got []int
	for i := range 50 {
		l.Post(func() { got = append(got, i) })
	}
	require.True(t, l.Do(func() {}))

	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v)
	}

	cancel()
	require.NoError(t, <-errCh)
	<-l.Done()
}

func TestLoopSurvivesPanics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	l.Post(func() { panic("boom") })
	ran := false
	require.True(t, l.Do(func() { ran = true }))
	require.True(t, ran)

	cancel()
	<-l.Done()
}

func TestLoopRejectsSecondRun(t *testing.T) {
	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	require.True(t, l.Do(func() {}))

	require.ErrorIs(t, l.Run(ctx), ErrRunning)

	cancel()
	<-l.Done()
}

func TestDoReturnsFalseAfterStop(t *testing.T) {
	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))
	require.False(t, l.Do(func() {}))
}

func TestPostFromManyGoroutines(t *testing.T) {
	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	var (
		wg    sync.WaitGroup
		count int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				l.Post(func() { count++ })
			}
		}()
	}
	wg.Wait()
	require.True(t, l.Do(func() {}))
	require.Equal(t, 800, count)
}
