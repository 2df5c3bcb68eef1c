package meetings

import (
	"context"
	"fmt"
	"time"

	"github.com/nickigann03/ai-secretary/internal/events"
	"github.com/nickigann03/ai-secretary/internal/models"
)

// AttachAudio records a stored recording and hands the meeting to transcription.
// Any earlier transcript or minutes are dropped since they describe another recording.
func (s *Store) AttachAudio(ctx context.Context, ownerID, meetingID int64, audioKey, audioURL string) (*models.Meeting, error) {
	if audioURL == "" {
		return nil, fmt.Errorf("%w: audio url required", models.ErrInvalidInput)
	}
	var previousKey string
	m, err := s.mutate(ctx, ownerID, meetingID, colAudio|colStatus|colTranscript|colMinutes, func(m *models.Meeting) (events.Type, error) {
		if !models.CanUpload(m.Status) {
			return "", fmt.Errorf("%w: cannot attach audio while %s", models.ErrInvalidTransition, m.Status)
		}
		if err := transition(m, models.StatusProcessingSTT); err != nil {
			return "", err
		}
		previousKey = m.AudioKey
		m.AudioKey = audioKey
		m.AudioURL = audioURL
		m.Transcript = []models.Utterance{}
		m.Minutes = nil
		m.FailureKind = models.FailureNone
		m.FailureMessage = ""
		m.StageToken++
		return events.AudioStored, nil
	})
	if err != nil {
		return nil, err
	}
	if previousKey != "" && previousKey != audioKey && s.blobs != nil {
		if err := s.blobs.Delete(previousKey); err != nil {
			s.log.Warn().Err(err).Int64("meeting_id", meetingID).Msg("delete replaced audio failed")
		}
	}
	return m, nil
}

// ClaimStage atomically checks that the meeting is still at token and status and
// bumps the token. The returned token must be presented when the stage writes back.
// A duplicate or outdated dispatch gets models.ErrStaleStage.
func (s *Store) ClaimStage(ctx context.Context, ownerID, meetingID, token int64, status models.Status) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE meetings SET stage_token = stage_token + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND stage_token = ? AND status = ?`),
		s.now(), meetingID, ownerID, token, string(status),
	)
	if err != nil {
		return 0, fmt.Errorf("claim stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return 0, models.ErrStaleStage
	}
	s.invalidateStatus(ctx, meetingID)
	return token + 1, nil
}

func checkClaim(m *models.Meeting, token int64, status models.Status) error {
	if m.StageToken != token {
		return models.ErrStaleStage
	}
	if m.Status != status {
		return fmt.Errorf("%w: meeting is %s, expected %s", models.ErrInvalidTransition, m.Status, status)
	}
	return nil
}

// SaveTranscript persists the normalized transcript and moves to PROCESSING_LLM.
func (s *Store) SaveTranscript(ctx context.Context, ownerID, meetingID, token int64, transcript []models.Utterance) (*models.Meeting, error) {
	if len(transcript) == 0 {
		return nil, fmt.Errorf("%w: transcript is empty", models.ErrInvalidInput)
	}
	return s.mutate(ctx, ownerID, meetingID, colStatus|colTranscript, func(m *models.Meeting) (events.Type, error) {
		if err := checkClaim(m, token, models.StatusProcessingSTT); err != nil {
			return "", err
		}
		if err := transition(m, models.StatusProcessingLLM); err != nil {
			return "", err
		}
		m.Transcript = transcript
		m.StageToken++
		return events.TranscriptReady, nil
	})
}

// SaveMinutes stores generated minutes and moves to READY_FOR_REVIEW.
func (s *Store) SaveMinutes(ctx context.Context, ownerID, meetingID, token int64, items []models.MinuteItem) (*models.Meeting, error) {
	if items == nil {
		items = []models.MinuteItem{}
	}
	return s.mutate(ctx, ownerID, meetingID, colStatus|colMinutes, func(m *models.Meeting) (events.Type, error) {
		if err := checkClaim(m, token, models.StatusProcessingLLM); err != nil {
			return "", err
		}
		if err := transition(m, models.StatusReadyForReview); err != nil {
			return "", err
		}
		m.Minutes = items
		m.StageToken++
		return events.MinutesReady, nil
	})
}

// MarkFailed moves an in-flight meeting to FAILED, keeping whatever artifacts it had.
// token must match the meeting's current stage token.
func (s *Store) MarkFailed(ctx context.Context, ownerID, meetingID, token int64, kind models.FailureKind, message string) (*models.Meeting, error) {
	if kind == models.FailureNone {
		kind = models.FailureRemote
	}
	message = models.Clip(message, 1000)
	return s.mutate(ctx, ownerID, meetingID, colStatus, func(m *models.Meeting) (events.Type, error) {
		if m.StageToken != token {
			return "", models.ErrStaleStage
		}
		if err := transition(m, models.StatusFailed); err != nil {
			return "", err
		}
		m.FailureKind = kind
		m.FailureMessage = message
		m.StageToken++
		return events.MeetingFailed, nil
	})
}

// RestartMinutes re-queues minutes generation for a failed meeting that kept its transcript.
func (s *Store) RestartMinutes(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error) {
	return s.mutate(ctx, ownerID, meetingID, colStatus|colMinutes, func(m *models.Meeting) (events.Type, error) {
		if m.Status != models.StatusFailed {
			return "", fmt.Errorf("%w: minutes can only be regenerated after a failure, meeting is %s", models.ErrInvalidTransition, m.Status)
		}
		if len(m.Transcript) == 0 {
			return "", models.ErrMissingTranscript
		}
		if err := transition(m, models.StatusProcessingLLM); err != nil {
			return "", err
		}
		m.Minutes = nil
		m.FailureKind = models.FailureNone
		m.FailureMessage = ""
		m.StageToken++
		return events.TranscriptReady, nil
	})
}

// UpdateMinutes applies human edits during review. Status does not change.
func (s *Store) UpdateMinutes(ctx context.Context, ownerID, meetingID int64, items []models.MinuteItem) (*models.Meeting, error) {
	if items == nil {
		items = []models.MinuteItem{}
	}
	return s.mutate(ctx, ownerID, meetingID, colMinutes, func(m *models.Meeting) (events.Type, error) {
		if m.Status != models.StatusReadyForReview {
			return "", fmt.Errorf("%w: minutes are editable only in review, meeting is %s", models.ErrInvalidTransition, m.Status)
		}
		m.Minutes = items
		return "", nil
	})
}

// Finalize closes the review.
func (s *Store) Finalize(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error) {
	return s.mutate(ctx, ownerID, meetingID, colStatus, func(m *models.Meeting) (events.Type, error) {
		return "", transition(m, models.StatusFinalized)
	})
}

// ListStale returns in-flight meetings that have not been written since before cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Meeting, error) {
	var rows []meetingRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+meetingColumns+` FROM meetings
		WHERE status IN (?, ?) AND updated_at < ?
		ORDER BY updated_at`),
		string(models.StatusProcessingSTT), string(models.StatusProcessingLLM), cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale meetings: %w", err)
	}
	out := make([]*models.Meeting, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
