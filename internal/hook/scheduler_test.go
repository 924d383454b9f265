package hook

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJobOnEverySecond(t *testing.T) {
	s := NewScheduler(nil)
	var count int32
	require.NoError(t, s.AddJob("sweep", "@every 1s", func() error {
		atomic.AddInt32(&count, 1)
		return nil
	}))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_JobErrorDoesNotPanic(t *testing.T) {
	s := NewScheduler(nil)
	var ran int32
	require.NoError(t, s.AddJob("flaky", "@every 1s", func() error {
		atomic.AddInt32(&ran, 1)
		return errors.New("boom")
	}))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RejectsInvalidSpec(t *testing.T) {
	s := NewScheduler(nil)
	err := s.AddJob("bad", "not-a-cron-spec", func() error { return nil })
	require.Error(t, err)
}
