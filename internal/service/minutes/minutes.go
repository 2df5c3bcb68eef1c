// Package minutes turns a stored transcript into minute items with a language model.
package minutes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/llm"
	"github.com/nickigann03/ai-secretary/internal/models"
)

const stageName = "minutes"

// InfoRemark marks an item that needs no action.
const InfoRemark = "Info"

const systemPrompt = "You are a professional secretary. Output only valid JSON."

// Store is the slice of the meeting store this stage needs.
type Store interface {
	GetMeeting(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error)
	SaveMinutes(ctx context.Context, ownerID, meetingID, token int64, items []models.MinuteItem) (*models.Meeting, error)
}

type Service struct {
	store Store
	model llm.Completer
	log   zerolog.Logger
}

func NewService(store Store, model llm.Completer, log zerolog.Logger) *Service {
	return &Service{store: store, model: model, log: log.With().Str("stage", stageName).Logger()}
}

// Run generates and stores minutes for a meeting in PROCESSING_LLM. token is
// the claimed stage token. A meeting without transcript yields
// models.ErrMissingTranscript and nothing is called or written.
func (s *Service) Run(ctx context.Context, ownerID, meetingID, token int64) (*models.Meeting, error) {
	m, err := s.store.GetMeeting(ctx, ownerID, meetingID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("meeting %d %w", meetingID, models.ErrNotFound)
	}
	if len(m.Transcript) == 0 {
		return nil, models.ErrMissingTranscript
	}

	reply, err := s.model.Complete(ctx, systemPrompt, BuildPrompt(m.Agenda, m.Transcript))
	if err != nil {
		kind := models.FailureRemote
		if errors.Is(err, llm.ErrMissingCredentials) {
			kind = models.FailureConfig
		}
		return nil, models.NewStageError(stageName, kind, err)
	}
	shape, err := MatchShape(reply)
	if err != nil {
		s.log.Warn().Int64("meeting_id", meetingID).Str("reply", models.Clip(reply, 500)).Msg("unparsable model reply")
		return nil, models.NewStageError(stageName, models.FailureParse, err)
	}
	items := shape.MinuteItems()
	s.log.Info().
		Int64("meeting_id", meetingID).
		Str("shape", shape.Kind.String()).
		Int("items", len(items)).
		Msg("minutes extracted")

	return s.store.SaveMinutes(ctx, ownerID, meetingID, token, items)
}

// TranscriptLines renders one "[<time>s] <speaker>: <text>" line per utterance.
func TranscriptLines(transcript []models.Utterance) []string {
	lines := make([]string, 0, len(transcript))
	for _, u := range transcript {
		text := strings.ReplaceAll(u.Text, "\n", " ")
		lines = append(lines, "["+strconv.FormatFloat(u.Time, 'f', -1, 64)+"s] "+u.Speaker+": "+text)
	}
	return lines
}

// BuildPrompt assembles the user prompt; agenda is included verbatim when set.
func BuildPrompt(agenda string, transcript []models.Utterance) string {
	var b strings.Builder
	b.WriteString("You are the Secretary of the Lions Club of KL Vision City.\n")
	b.WriteString("Your task is to convert the following meeting transcript into formal minute items.\n\n")
	if strings.TrimSpace(agenda) != "" {
		b.WriteString("Here is the meeting agenda/context to guide the structure:\n")
		b.WriteString(agenda)
		b.WriteString("\n\n")
	}
	b.WriteString(`Format your response as a JSON array of objects with the following structure:
[
  {
    "item": "1.0",
    "description": "The exact wording of the minute item, formal and concise.",
    "remark": "Action By: Person Name OR 'Info'"
  }
]

Rules:
- Use "Info" for remark if no specific action is required.
- Number items sequentially (1.0, 2.0, etc.).
- Capture motions, proposers, and seconders clearly.
- Ignore small talk.
`)
	if strings.TrimSpace(agenda) != "" {
		b.WriteString("- Align the minutes with the agenda items.\n")
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(strings.Join(TranscriptLines(transcript), "\n"))
	return b.String()
}
