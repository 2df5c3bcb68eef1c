// Package pipeline turns meeting events into stage jobs and runs them.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/metrics"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/worker"
)

// Store is the slice of the meeting store the pipeline drives.
type Store interface {
	ClaimStage(ctx context.Context, ownerID, meetingID, token int64, status models.Status) (int64, error)
	MarkFailed(ctx context.Context, ownerID, meetingID, token int64, kind models.FailureKind, message string) (*models.Meeting, error)
	RestartMinutes(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.Meeting, error)
}

// Stage runs one pipeline step for a claimed meeting and writes its result back.
type Stage interface {
	Run(ctx context.Context, ownerID, meetingID, token int64) (*models.Meeting, error)
}

type stageSpec struct {
	name   string
	status models.Status
	stage  Stage
}

// Runner executes stage jobs: claim, run, and record failures.
type Runner struct {
	store   Store
	stages  map[worker.JobType]stageSpec
	metrics *metrics.Pipeline
	tracer  *metrics.Tracer
	log     zerolog.Logger
	now     func() time.Time
}

func NewRunner(store Store, transcribe, minutes Stage, m *metrics.Pipeline, log zerolog.Logger) *Runner {
	return &Runner{
		store: store,
		stages: map[worker.JobType]stageSpec{
			worker.JobTranscribe:      {name: "transcription", status: models.StatusProcessingSTT, stage: transcribe},
			worker.JobGenerateMinutes: {name: "minutes", status: models.StatusProcessingLLM, stage: minutes},
		},
		metrics: m,
		tracer:  metrics.NewTracer(),
		log:     log.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
	}
}

// Handle implements worker.Handler.
func (r *Runner) Handle(ctx context.Context, job worker.Job) {
	def, ok := r.stages[job.Type]
	if !ok || def.stage == nil {
		r.log.Warn().Str("job", string(job.Type)).Msg("no stage for job")
		return
	}
	log := r.log.With().
		Str("stage", def.name).
		Int64("meeting_id", job.MeetingID).
		Int64("owner_id", job.OwnerID).
		Logger()

	token, err := r.store.ClaimStage(ctx, job.OwnerID, job.MeetingID, job.Token, def.status)
	if err != nil {
		if errors.Is(err, models.ErrStaleStage) {
			log.Debug().Int64("token", job.Token).Msg("stale dispatch dropped")
			r.metrics.ObserveStage(def.name, metrics.OutcomeStale, 0)
			return
		}
		log.Error().Err(err).Msg("claim stage failed")
		return
	}

	ctx, span := r.tracer.StartStage(ctx, def.name, job.MeetingID, job.OwnerID, token)
	start := r.now()
	_, err = def.stage.Run(ctx, job.OwnerID, job.MeetingID, token)
	elapsed := r.now().Sub(start).Seconds()

	switch {
	case err == nil:
		metrics.EndStage(span, "", nil)
		r.metrics.ObserveStage(def.name, metrics.OutcomeSuccess, elapsed)
		log.Info().Float64("seconds", elapsed).Msg("stage completed")
	case errors.Is(err, models.ErrStaleStage):
		metrics.EndStage(span, "", err)
		r.metrics.ObserveStage(def.name, metrics.OutcomeStale, 0)
		log.Info().Msg("stage result discarded, meeting moved on")
	case errors.Is(err, models.ErrNotFound), errors.Is(err, context.Canceled):
		// meeting deleted, transcript gone or shutting down: nothing to mark
		metrics.EndStage(span, "", err)
		r.metrics.ObserveStage(def.name, metrics.OutcomeSkipped, 0)
		log.Warn().Err(err).Msg("stage abandoned")
	default:
		kind := models.KindOf(err)
		metrics.EndStage(span, string(kind), err)
		r.metrics.ObserveStage(def.name, metrics.OutcomeFailed, elapsed)
		log.Error().Err(err).Str("kind", string(kind)).Msg("stage failed")
		r.fail(ctx, log, job.OwnerID, job.MeetingID, token, kind, err.Error())
	}
}

func (r *Runner) fail(ctx context.Context, log zerolog.Logger, ownerID, meetingID, token int64, kind models.FailureKind, msg string) {
	if _, err := r.store.MarkFailed(ctx, ownerID, meetingID, token, kind, msg); err != nil {
		if errors.Is(err, models.ErrStaleStage) {
			log.Debug().Msg("failure not recorded, meeting moved on")
			return
		}
		log.Error().Err(err).Msg("mark failed")
	}
}
