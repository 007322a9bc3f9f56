package workqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(func() { atomic.AddInt32(&n, 1) })
		}()
	}
	wg.Wait()
	p.Close()
	if got := atomic.LoadInt32(&n); got != 50 {
		t.Errorf("ran %d jobs, want 50", got)
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p := NewPool(1)
	p.Close()
	if p.Submit(func() {}) {
		t.Error("Submit after Close returned true, want false")
	}
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	p := NewPool(2)
	p.Close()
	p.Close() // must not panic or block on a double close
}

func TestTrackerSnapshot(t *testing.T) {
	var tr Tracker
	tr.SetStage(StageUnitParse, 10)
	tr.Advance(3)
	tr.Advance(2)
	got := tr.Snapshot()
	if got.Stage != StageUnitParse || got.Done != 5 || got.Total != 10 {
		t.Errorf("Snapshot() = %+v, want {%s 5 10}", got, StageUnitParse)
	}

	// Moving to a new stage resets Done but not the stage's own identity.
	tr.SetStage(StageMerge, 4)
	got = tr.Snapshot()
	if got.Stage != StageMerge || got.Done != 0 || got.Total != 4 {
		t.Errorf("Snapshot() after SetStage = %+v, want {%s 0 4}", got, StageMerge)
	}
}

// TestJobCancelUnblocksWaiters exercises spec.md §8's cancellation
// liveness invariant: a job that is cooperatively checking Cancelled()
// must actually observe the cancellation and finish promptly, and Wait
// must not block forever once Finish is called.
func TestJobCancelUnblocksWaiters(t *testing.T) {
	j := NewJob(context.Background())

	started := make(chan struct{})
	go func() {
		close(started)
		for !j.Cancelled() {
			time.Sleep(time.Millisecond)
		}
		j.Finish(context.Canceled)
	}()

	<-started
	j.Cancel()

	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish within 5s of Cancel; cancellation is not live")
	}
	if err := j.Wait(); err != context.Canceled {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestJobCancelIsIdempotent(t *testing.T) {
	j := NewJob(context.Background())
	j.Cancel()
	j.Cancel() // must not panic
	if !j.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
}

func TestJobWaitReturnsFinishError(t *testing.T) {
	j := NewJob(context.Background())
	wantErr := context.DeadlineExceeded
	go j.Finish(wantErr)
	if err := j.Wait(); err != wantErr {
		t.Errorf("Wait() = %v, want %v", err, wantErr)
	}
}

func TestJobContextCancelledOnParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	j := NewJob(parent)
	cancel()
	if !j.Cancelled() {
		t.Error("job not reported cancelled after its parent context was cancelled")
	}
}
