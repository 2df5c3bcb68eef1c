package minutes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nickigann03/ai-secretary/internal/llm"
	"github.com/nickigann03/ai-secretary/internal/models"
)

type fakeStore struct {
	meeting *models.Meeting
	saved   []models.MinuteItem
	calls   int
}

func (f *fakeStore) GetMeeting(context.Context, int64, int64) (*models.Meeting, error) {
	return f.meeting, nil
}

func (f *fakeStore) SaveMinutes(_ context.Context, _, _, _ int64, items []models.MinuteItem) (*models.Meeting, error) {
	f.calls++
	f.saved = items
	m := *f.meeting
	m.Status = models.StatusReadyForReview
	m.Minutes = items
	return &m, nil
}

type fakeCompleter struct {
	reply  string
	err    error
	system string
	user   string
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.reply, f.err
}

func meetingWithTranscript() *models.Meeting {
	return &models.Meeting{
		ID:         1,
		UserID:     2,
		Status:     models.StatusProcessingLLM,
		Agenda:     "1. Call to order",
		Transcript: []models.Utterance{{Speaker: "Speaker 1", Text: "Hello", Time: 0}},
	}
}

func TestShapesExtractIdentically(t *testing.T) {
	items := `[{"item":"1.0","description":"Called to order","remark":"Info"},{"item":"2.0","description":"Budget approved","remark":"Ann"}]`
	cases := []struct {
		input string
		kind  ShapeKind
	}{
		{items, ShapeArray},
		{`{"minutes":` + items + `}`, ShapeWrappedInMinutesKey},
		{`{"note":"x","other_key":` + items + `}`, ShapeWrappedInUnknownKey},
		{"```json\n" + items + "\n```", ShapeArray},
	}
	var want []models.MinuteItem
	for _, tc := range cases {
		shape, err := MatchShape(tc.input)
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.kind, shape.Kind, tc.input)
		got := shape.MinuteItems()
		if want == nil {
			want = got
		}
		require.Equal(t, want, got, tc.input)
	}
	require.Len(t, want, 2)
	require.Equal(t, "Budget approved", want[1].Description)
}

func TestUnknownKeyIsFirstArrayInDocumentOrder(t *testing.T) {
	shape, err := MatchShape(`{"b":[{"item":"9.0","description":"first"}],"a":[{"description":"second"}]}`)
	require.NoError(t, err)
	require.Equal(t, ShapeWrappedInUnknownKey, shape.Kind)
	require.Equal(t, "b", shape.Key)
}

func TestEmptyShapes(t *testing.T) {
	for _, input := range []string{`{}`, `{"x":"not an array"}`, `42`} {
		shape, err := MatchShape(input)
		require.NoError(t, err, input)
		require.Equal(t, ShapeEmpty, shape.Kind, input)
		require.NotNil(t, shape.MinuteItems())
		require.Empty(t, shape.MinuteItems())
	}
}

func TestUnparsableReply(t *testing.T) {
	for _, input := range []string{"", "Sure! Here are the minutes", `{"minutes": [`, "null"} {
		_, err := MatchShape(input)
		require.ErrorIs(t, err, ErrUnparsable, input)
	}
}

func TestMinuteItemDefaults(t *testing.T) {
	shape, err := MatchShape(`[{"description":"Opening"},{"item":"","description":"Motion carried","remark":""},"Loose note"]`)
	require.NoError(t, err)
	require.Equal(t, []models.MinuteItem{
		{Item: "1.0", Description: "Opening", Remark: InfoRemark},
		{Item: "2.0", Description: "Motion carried", Remark: InfoRemark},
		{Item: "3.0", Description: "Loose note", Remark: InfoRemark},
	}, shape.MinuteItems())
}

func TestTranscriptLinesOnePerUtterance(t *testing.T) {
	transcript := []models.Utterance{
		{Speaker: "Speaker 0", Text: "Good evening", Time: 0},
		{Speaker: "Speaker 1", Text: "I move to\napprove", Time: 12.5},
		{Speaker: "Unknown", Text: "Seconded", Time: 30},
	}
	lines := TranscriptLines(transcript)
	require.Len(t, lines, len(transcript))
	require.Equal(t, "[0s] Speaker 0: Good evening", lines[0])
	require.Equal(t, "[12.5s] Speaker 1: I move to approve", lines[1])
	for i, u := range transcript {
		require.Contains(t, lines[i], u.Speaker)
	}

	prompt := BuildPrompt("", transcript)
	require.NotContains(t, prompt, "agenda")
	require.Equal(t, len(transcript), strings.Count(prompt[strings.Index(prompt, "Transcript:"):], "\n["))
}

func TestRunStoresMinutes(t *testing.T) {
	store := &fakeStore{meeting: meetingWithTranscript()}
	model := &fakeCompleter{reply: `{"minutes":[{"item":"1.0","description":"Called to order","remark":"Info"}]}`}
	svc := NewService(store, model, zerolog.Nop())

	m, err := svc.Run(context.Background(), 2, 1, 5)
	require.NoError(t, err)
	require.Equal(t, models.StatusReadyForReview, m.Status)
	require.Equal(t, []models.MinuteItem{{Item: "1.0", Description: "Called to order", Remark: "Info"}}, store.saved)
	require.Equal(t, systemPrompt, model.system)
	require.Contains(t, model.user, "1. Call to order")
	require.Contains(t, model.user, "[0s] Speaker 1: Hello")
}

func TestRunFailures(t *testing.T) {
	t.Run("missing transcript", func(t *testing.T) {
		m := meetingWithTranscript()
		m.Transcript = nil
		model := &fakeCompleter{}
		_, err := NewService(&fakeStore{meeting: m}, model, zerolog.Nop()).Run(context.Background(), 2, 1, 5)
		require.ErrorIs(t, err, models.ErrMissingTranscript)
		require.Zero(t, model.calls)
	})
	t.Run("missing credentials", func(t *testing.T) {
		model := &fakeCompleter{err: llm.ErrMissingCredentials}
		_, err := NewService(&fakeStore{meeting: meetingWithTranscript()}, model, zerolog.Nop()).Run(context.Background(), 2, 1, 5)
		require.Equal(t, models.FailureConfig, models.KindOf(err))
	})
	t.Run("remote error", func(t *testing.T) {
		model := &fakeCompleter{err: errors.New("503")}
		_, err := NewService(&fakeStore{meeting: meetingWithTranscript()}, model, zerolog.Nop()).Run(context.Background(), 2, 1, 5)
		require.Equal(t, models.FailureRemote, models.KindOf(err))
	})
	t.Run("parse error", func(t *testing.T) {
		store := &fakeStore{meeting: meetingWithTranscript()}
		model := &fakeCompleter{reply: "I cannot help with that"}
		_, err := NewService(store, model, zerolog.Nop()).Run(context.Background(), 2, 1, 5)
		require.Equal(t, models.FailureParse, models.KindOf(err))
		require.Zero(t, store.calls)
	})
}
