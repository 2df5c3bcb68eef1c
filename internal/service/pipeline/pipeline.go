package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/events"
	"github.com/nickigann03/ai-secretary/internal/metrics"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/worker"
)

// Submitter accepts stage jobs without blocking.
type Submitter interface {
	Submit(job worker.Job) error
	Pending() int
}

type Config struct {
	Dispatcher    worker.DispatcherConfig
	SweepInterval time.Duration
	StuckAfter    time.Duration
}

// Pipeline listens for meeting events and schedules the next stage for each.
type Pipeline struct {
	store      Store
	bus        events.Bus
	runner     *Runner
	dispatcher *worker.Dispatcher
	submit     Submitter
	metrics    *metrics.Pipeline
	cfg        Config
	log        zerolog.Logger

	mu          sync.Mutex
	unsubscribe func()
	stopSweep   context.CancelFunc
	sweepDone   chan struct{}
}

// New builds the pipeline and its worker dispatcher. Call Start to begin consuming events.
func New(store Store, bus events.Bus, transcribe, minutes Stage, cfg Config, m *metrics.Pipeline, log zerolog.Logger) *Pipeline {
	if m == nil {
		m = metrics.New()
	}
	runner := NewRunner(store, transcribe, minutes, m, log)
	d := worker.NewDispatcher(cfg.Dispatcher, runner, log)
	return &Pipeline{
		store:      store,
		bus:        bus,
		runner:     runner,
		dispatcher: d,
		submit:     d,
		metrics:    m,
		cfg:        cfg,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Start subscribes to the bus and launches the stuck-meeting sweeper.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		return
	}
	p.unsubscribe = p.bus.Subscribe(p.OnEvent)
	if p.cfg.SweepInterval > 0 && p.cfg.StuckAfter > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		p.stopSweep = cancel
		p.sweepDone = make(chan struct{})
		go p.sweepLoop(sweepCtx, p.cfg.SweepInterval)
	}
}

// Close stops listening, stops the sweeper and shuts the dispatcher down.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	if p.stopSweep != nil {
		p.stopSweep()
		<-p.sweepDone
		p.stopSweep = nil
	}
	p.mu.Unlock()
	if p.dispatcher != nil {
		p.dispatcher.Close()
	}
}

// OnEvent maps committed meeting writes to the next stage job.
func (p *Pipeline) OnEvent(ctx context.Context, evt events.Event) {
	var jobType worker.JobType
	switch evt.Type {
	case events.AudioStored:
		jobType = worker.JobTranscribe
	case events.TranscriptReady:
		jobType = worker.JobGenerateMinutes
	default:
		return
	}
	job := worker.Job{
		Type:      jobType,
		MeetingID: evt.MeetingID,
		OwnerID:   evt.OwnerID,
		Token:     evt.Token,
	}
	if err := p.submit.Submit(job); err != nil {
		p.metrics.DispatchRejects.Inc()
		p.log.Warn().Err(err).
			Str("job", string(jobType)).
			Int64("meeting_id", evt.MeetingID).
			Msg("stage job rejected")
		// leave the meeting restartable instead of stuck in flight
		msg := fmt.Sprintf("%s not scheduled: %v", jobType, err)
		if _, ferr := p.store.MarkFailed(ctx, evt.OwnerID, evt.MeetingID, evt.Token, models.FailureRemote, msg); ferr != nil && !errors.Is(ferr, models.ErrStaleStage) {
			p.log.Error().Err(ferr).Int64("meeting_id", evt.MeetingID).Msg("mark failed after rejection")
		}
	}
}

// Accepting reports worker.ErrDispatcherBusy when the queue cannot take another job.
func (p *Pipeline) Accepting() error {
	if p.cfg.Dispatcher.QueueSize > 0 && p.submit.Pending() >= p.cfg.Dispatcher.QueueSize {
		return worker.ErrDispatcherBusy
	}
	return nil
}

// RegenerateMinutes restarts minutes generation for a failed meeting that kept its transcript.
func (p *Pipeline) RegenerateMinutes(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error) {
	if err := p.Accepting(); err != nil {
		return nil, err
	}
	return p.store.RestartMinutes(ctx, ownerID, meetingID)
}

// CancelOwner drops the owner's queued stage jobs, used when the account is deleted.
func (p *Pipeline) CancelOwner(ownerID int64) {
	if p.dispatcher != nil {
		p.dispatcher.CancelOwner(ownerID)
	}
}
