package worker

import (
	"context"
	"errors"
	"time"
)

// JobType names the pipeline stage a job runs.
type JobType string

const (
	JobTranscribe      JobType = "transcribe"
	JobGenerateMinutes JobType = "generate_minutes"
	Stop               JobType = "stop"
)

// Job asks a worker to run one stage for one meeting. Token is the meeting's
// stage token observed when the job was scheduled.
type Job struct {
	Type      JobType
	MeetingID int64
	OwnerID   int64
	Token     int64
	Enqueued  time.Time
}

// Handler runs a job. Handlers report failures through the meeting store, not
// through a return value.
type Handler interface {
	Handle(ctx context.Context, job Job)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job)

func (f HandlerFunc) Handle(ctx context.Context, job Job) { f(ctx, job) }

var (
	ErrDispatcherBusy   = errors.New("dispatcher busy")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

func (job Job) ownerID() int64 {
	return job.OwnerID
}
