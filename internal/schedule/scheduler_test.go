package schedule

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name    string
	started chan struct{}
	release chan struct{}
	runs    atomic.Int32
}

func (s *stubJob) Name() string { return s.name }

func (s *stubJob) Run(ctx context.Context) error {
	s.runs.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	return nil
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	sched := NewCronScheduler()
	err := sched.AddJob(&stubJob{name: "bad"}, "not a cron spec")
	require.Error(t, err)
}

func TestAddJobRejectsDuplicateName(t *testing.T) {
	sched := NewCronScheduler()
	require.NoError(t, sched.AddJob(&stubJob{name: "pipeline"}, "* * * * *"))
	err := sched.AddJob(&stubJob{name: "pipeline"}, "*/5 * * * *")
	require.ErrorContains(t, err, "already scheduled")
}

func TestGuardedSkipsOverlappingTick(t *testing.T) {
	sched := NewCronScheduler()
	job := &stubJob{
		name:    "slow",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	tick := sched.guarded(job)

	done := make(chan struct{})
	go func() {
		tick()
		close(done)
	}()
	<-job.started

	// A tick that fires while the first invocation is mid-run returns
	// without running the job again.
	tick()
	require.Equal(t, int32(1), job.runs.Load())

	close(job.release)
	<-done

	// Once the first invocation returns the guard is released.
	job.started = nil
	job.release = nil
	tick()
	require.Equal(t, int32(2), job.runs.Load())
}
