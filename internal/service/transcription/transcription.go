// Package transcription runs the speech-to-text stage of a meeting.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/nickigann03/ai-secretary/internal/config"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/speech"
)

const stageName = "transcription"

// UnknownSpeaker labels utterances the provider did not attribute.
const UnknownSpeaker = "Unknown"

// Transcriber is the remote speech service.
type Transcriber interface {
	Submit(ctx context.Context, audioURL string) (speech.Job, error)
	Poll(ctx context.Context, resultURL string) (speech.PollResult, error)
}

// Store is the slice of the meeting store this stage needs.
type Store interface {
	GetMeeting(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error)
	SaveTranscript(ctx context.Context, ownerID, meetingID, token int64, transcript []models.Utterance) (*models.Meeting, error)
}

// PollPolicy bounds how long a job is waited for.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	MaxWait     time.Duration
	// MaxUnknown is how many polls may report a status other than queued,
	// processing, done or error before the job is given up.
	MaxUnknown int
}

// PolicyFromConfig turns speech settings into a poll policy.
func PolicyFromConfig(cfg config.SpeechConfig) PollPolicy {
	return PollPolicy{
		Interval:    cfg.PollInterval(),
		MaxAttempts: cfg.MaxPollAttempts,
		MaxWait:     cfg.MaxWait(),
		MaxUnknown:  cfg.MaxUnknownStatus,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = 3 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 400
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 20 * time.Minute
	}
	if p.MaxUnknown <= 0 {
		p.MaxUnknown = 3
	}
	return p
}

// Service submits audio, waits for the result and stores the normalized transcript.
type Service struct {
	store  Store
	client Transcriber
	policy PollPolicy
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, client Transcriber, policy PollPolicy, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		client: client,
		policy: policy.withDefaults(),
		log:    log.With().Str("stage", stageName).Logger(),
		now:    time.Now,
	}
}

// Run transcribes the meeting's audio. token is the claimed stage token.
// Nothing is written on failure; the returned error is a *models.StageError
// unless the meeting itself could not be found.
func (s *Service) Run(ctx context.Context, ownerID, meetingID, token int64) (*models.Meeting, error) {
	m, err := s.store.GetMeeting(ctx, ownerID, meetingID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("meeting %d %w", meetingID, models.ErrNotFound)
	}
	if m.AudioURL == "" {
		return nil, models.NewStageError(stageName, models.FailureConfig, errors.New("meeting has no audio url"))
	}
	log := s.log.With().Int64("meeting_id", meetingID).Int64("owner_id", ownerID).Logger()

	job, err := s.client.Submit(ctx, m.AudioURL)
	if err != nil {
		return nil, classify(err)
	}
	log.Info().Str("job_id", job.ID).Msg("transcription submitted")

	result, err := s.await(ctx, job)
	if err != nil {
		return nil, err
	}
	transcript := Normalize(result.Utterances)
	if len(transcript) == 0 {
		return nil, models.NewStageError(stageName, models.FailureParse, errors.New("transcription returned no utterances"))
	}
	saved, err := s.store.SaveTranscript(ctx, ownerID, meetingID, token, transcript)
	if err != nil {
		return nil, err
	}
	log.Info().Int("utterances", len(transcript)).Msg("transcript stored")
	return saved, nil
}

// await polls until the job reaches a terminal status or the policy runs out.
func (s *Service) await(ctx context.Context, job speech.Job) (speech.PollResult, error) {
	p := s.policy
	ctx, cancel := context.WithTimeout(ctx, p.MaxWait)
	defer cancel()
	started := s.now()
	unknown := 0
	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return speech.PollResult{}, timedOut(attempt-1, s.now().Sub(started))
			}
			return speech.PollResult{}, ctx.Err()
		case <-timer.C:
		}

		res, err := s.client.Poll(ctx, job.ResultURL)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return speech.PollResult{}, timedOut(attempt, s.now().Sub(started))
			}
			return speech.PollResult{}, classify(err)
		}
		switch res.Status {
		case speech.StatusDone:
			return res, nil
		case speech.StatusError:
			msg := "transcription job failed"
			if res.ErrorCode != "" {
				msg += ": " + res.ErrorCode
			}
			return speech.PollResult{}, models.NewStageError(stageName, models.FailureRemote, errors.New(msg))
		case speech.StatusQueued, speech.StatusProcessing:
		default:
			unknown++
			s.log.Warn().Str("job_id", job.ID).Str("status", res.Status).Int("unknown", unknown).Msg("unrecognized job status")
			if unknown >= p.MaxUnknown {
				return speech.PollResult{}, models.NewStageError(stageName, models.FailureRemote,
					fmt.Errorf("job kept reporting unrecognized status %q", res.Status))
			}
		}
		timer.Reset(p.Interval)
	}
	return speech.PollResult{}, timedOut(p.MaxAttempts, s.now().Sub(started))
}

func timedOut(attempts int, waited time.Duration) error {
	return models.NewStageError(stageName, models.FailureTimedOut,
		fmt.Errorf("no terminal status after %d polls in %s", attempts, waited.Round(time.Second)))
}

func classify(err error) error {
	if errors.Is(err, speech.ErrMissingCredentials) {
		return models.NewStageError(stageName, models.FailureConfig, err)
	}
	return models.NewStageError(stageName, models.FailureRemote, err)
}

// Normalize maps provider utterances to the stored shape, keeping their order.
// Numeric or textual speaker tags become "Speaker N"; absent tags become UnknownSpeaker.
func Normalize(in []speech.Utterance) []models.Utterance {
	out := make([]models.Utterance, 0, len(in))
	for _, u := range in {
		out = append(out, models.Utterance{
			Speaker: speakerLabel(u),
			Text:    strings.TrimSpace(u.Text),
			Time:    u.Start,
		})
	}
	return out
}

func speakerLabel(u speech.Utterance) string {
	if !u.Speaker.Exists() || u.Speaker.Type == gjson.Null {
		return UnknownSpeaker
	}
	tag := strings.TrimSpace(u.Speaker.String())
	if tag == "" {
		return UnknownSpeaker
	}
	return "Speaker " + tag
}
