package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
)

type fakeRunner struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (f *fakeRunner) RunScheduled(ctx context.Context) (orchestrator.Summary, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return orchestrator.Summary{}, ctx.Err()
		}
	}
	return orchestrator.Summary{Due: 1, Completed: 1}, f.err
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, time.Second)
	require.Error(t, err)
	_, err = New(&fakeRunner{}, 0)
	require.Error(t, err)
}

func TestSchedulerTicks(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	runner := &fakeRunner{}
	s, err := New(runner, 20*time.Millisecond, WithLogger(zap.New(core)))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, s.Jobs(), 1)
	assert.Equal(t, []string{TagScheduledCrawl}, s.Jobs()[0].Tags())
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("scheduled crawl pass finished").Len() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStartTwice(t *testing.T) {
	s, err := New(&fakeRunner{}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Error(t, s.Start(context.Background()))
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, err := New(runner, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, runner.calls.Load())

	close(runner.block)
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSchedulerLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	runner := &fakeRunner{err: errors.New("store down")}
	s, err := New(runner, time.Hour, WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("scheduled crawl pass failed").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStopCancelsRunningPass(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, err := New(runner, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}
