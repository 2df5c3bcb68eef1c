package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nickigann03/ai-secretary/internal/logging"
)

type recordingHandler struct {
	mu    sync.Mutex
	jobs  []Job
	block chan struct{}
	done  chan Job
}

func (h *recordingHandler) Handle(_ context.Context, job Job) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.jobs = append(h.jobs, job)
	h.mu.Unlock()
	if h.done != nil {
		h.done <- job
	}
}

func waitJobs(t *testing.T, ch chan Job, n int) []Job {
	t.Helper()
	var got []Job
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case job := <-ch:
			got = append(got, job)
		case <-timeout:
			t.Fatalf("timed out waiting for jobs: got %d want %d", len(got), n)
		}
	}
	return got
}

func TestDispatcherRunsSubmittedJobs(t *testing.T) {
	h := &recordingHandler{done: make(chan Job, 10)}
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 10}, h, logging.Nop())
	defer d.Close()

	for i := int64(1); i <= 3; i++ {
		if err := d.Submit(Job{Type: JobTranscribe, MeetingID: i, OwnerID: 1}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	got := waitJobs(t, h.done, 3)
	seen := map[int64]bool{}
	for _, job := range got {
		seen[job.MeetingID] = true
		if job.Enqueued.IsZero() {
			t.Fatalf("submit should stamp enqueue time")
		}
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct meetings, got %v", seen)
	}
}

func TestDispatcherRoundRobinAcrossOwners(t *testing.T) {
	h := &recordingHandler{done: make(chan Job, 10)}
	d := newDispatcher(DispatcherConfig{MinWorkers: 0, MaxWorkers: 1, QueueSize: 10}, h, logging.Nop())

	// queue everything before the loop starts so ordering is decided by the owner LRU
	d.enqueueJob(Job{Type: JobTranscribe, MeetingID: 1, OwnerID: 1})
	d.enqueueJob(Job{Type: JobTranscribe, MeetingID: 2, OwnerID: 1})
	d.enqueueJob(Job{Type: JobTranscribe, MeetingID: 3, OwnerID: 2})
	go d.run()
	defer d.Close()
	if err := d.Submit(Job{Type: JobTranscribe, MeetingID: 4, OwnerID: 3}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitJobs(t, h.done, 4)
	if got[0].OwnerID != 1 || got[1].OwnerID != 2 {
		t.Fatalf("expected owner 2 to run before owner 1's second job, got %+v", got)
	}
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{}), done: make(chan Job, 10)}
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1}, h, logging.Nop())
	defer func() {
		close(h.block)
		d.Close()
	}()

	var busy error
	for i := 0; i < 50 && busy == nil; i++ {
		busy = d.Submit(Job{Type: JobGenerateMinutes, MeetingID: int64(i), OwnerID: 1})
		time.Sleep(5 * time.Millisecond)
	}
	if !errors.Is(busy, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy once the worker and queue are full, got %v", busy)
	}
}

func TestDispatcherCancelOwnerDropsQueuedJobs(t *testing.T) {
	h := &recordingHandler{done: make(chan Job, 10)}
	d := newDispatcher(DispatcherConfig{MinWorkers: 0, MaxWorkers: 1, QueueSize: 10}, h, logging.Nop())

	d.enqueueJob(Job{Type: JobTranscribe, MeetingID: 1, OwnerID: 5})
	d.enqueueJob(Job{Type: JobTranscribe, MeetingID: 2, OwnerID: 5})
	d.enqueueJob(Job{Type: JobTranscribe, MeetingID: 3, OwnerID: 6})
	d.CancelOwner(5)
	if d.Pending() != 1 {
		t.Fatalf("expected only owner 6's job to remain, got %d", d.Pending())
	}
	go d.run()
	defer d.Close()
	got := waitJobs(t, h.done, 1)
	if got[0].OwnerID != 6 {
		t.Fatalf("cancelled owner's job ran: %+v", got[0])
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1}, HandlerFunc(func(context.Context, Job) {}), logging.Nop())
	d.Close()
	if err := d.Submit(Job{Type: JobTranscribe, OwnerID: 1}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	d.Close()
}

func TestPoolRetiresExpiredWorkers(t *testing.T) {
	p := newJobChannelPool(context.Background(), 0, 2, time.Hour, HandlerFunc(func(context.Context, Job) {}), logging.Nop())
	defer p.close()
	p.spawnWorker()
	p.spawnWorker()

	deadline := time.Now().Add(time.Second)
	for {
		running, idle := p.stats()
		if running == 2 && idle == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("workers did not become idle: running=%d idle=%d", running, idle)
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.mu.Lock()
	for _, meta := range p.idle {
		meta.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()
	p.shutdownExpired()

	deadline = time.Now().Add(time.Second)
	for {
		running, _ := p.stats()
		if running == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired workers not retired, running=%d", running)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
