package worker

import (
	"context"
	"runtime/debug"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	handler    Handler
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool, handler Handler) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		handler:    handler,
		jobChannel: make(chan Job),
	}
}

// Start parks the worker in the idle list and runs jobs until it receives Stop.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
			job := <-w.jobChannel
			if job.Type == Stop {
				debugLog(w.pool.log, "[worker-%d] stop", w.id)
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(ctx, job)
		}
	}()
}

func (w *Worker) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.log.Error().
				Interface("panic", r).
				Str("job", string(job.Type)).
				Int64("meeting_id", job.MeetingID).
				Bytes("stack", debug.Stack()).
				Msg("worker recovered from panic")
		}
	}()
	debugLog(w.pool.log, "[worker-%d] run %s for meeting %d", w.id, job.Type, job.MeetingID)
	w.handler.Handle(ctx, job)
}
