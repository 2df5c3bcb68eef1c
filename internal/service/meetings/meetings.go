package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nickigann03/ai-secretary/internal/events"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/storage"
)

// MeetingInput carries the descriptive fields of a new meeting.
type MeetingInput struct {
	Title    string
	Venue    string
	Date     string
	Agenda   string
	FolderID *int64
}

// MeetingPatch updates descriptive fields; nil pointers are left unchanged.
type MeetingPatch struct {
	Title       *string
	Venue       *string
	Date        *string
	Agenda      *string
	FolderID    *int64
	ClearFolder bool
}

func validateDate(date string) error {
	if date == "" {
		return nil
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", models.ErrInvalidInput)
	}
	return nil
}

// CreateMeeting stores a new meeting in RECORDING with an empty transcript.
func (s *Store) CreateMeeting(ctx context.Context, ownerID int64, in MeetingInput) (*models.Meeting, error) {
	if ownerID <= 0 {
		return nil, fmt.Errorf("%w: owner required", models.ErrInvalidInput)
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if in.Date == "" {
		in.Date = s.now().Format(models.DateLayout)
	}
	if err := validateDate(in.Date); err != nil {
		return nil, err
	}
	if in.FolderID != nil {
		if err := s.checkFolder(ctx, s.db, ownerID, *in.FolderID); err != nil {
			return nil, err
		}
	}
	var folder sql.NullInt64
	if in.FolderID != nil {
		folder = sql.NullInt64{Int64: *in.FolderID, Valid: true}
	}
	now := s.now()
	id, err := storage.InsertID(ctx, s.db, `
		INSERT INTO meetings (user_id, title, venue, meeting_date, agenda, folder_id, audio_url, audio_key,
			status, raw_transcript, final_minutes, attendance, stage_token, failure_kind, failure_message,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', '', ?, '[]', NULL, NULL, 0, '', '', ?, ?)`,
		ownerID, in.Title, strings.TrimSpace(in.Venue), in.Date, in.Agenda, folder,
		string(models.StatusRecording), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}
	return &models.Meeting{
		ID:         id,
		UserID:     ownerID,
		Title:      in.Title,
		Venue:      strings.TrimSpace(in.Venue),
		Date:       in.Date,
		Agenda:     in.Agenda,
		FolderID:   in.FolderID,
		Status:     models.StatusRecording,
		Transcript: []models.Utterance{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetMeeting returns nil, nil when the meeting does not exist or belongs to someone else.
func (s *Store) GetMeeting(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error) {
	m, err := s.loadOwnedTx(ctx, s.db, ownerID, meetingID)
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrUnauthorized) {
		return nil, nil
	}
	return m, err
}

// ListMeetings returns the owner's meetings, newest first, optionally limited to one folder.
func (s *Store) ListMeetings(ctx context.Context, ownerID int64, folderID *int64) ([]*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE user_id = ?`
	args := []any{ownerID}
	if folderID != nil {
		query += ` AND folder_id = ?`
		args = append(args, *folderID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	var rows []meetingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
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

// UpdateDetails edits descriptive fields; it never changes status.
func (s *Store) UpdateDetails(ctx context.Context, ownerID, meetingID int64, patch MeetingPatch) (*models.Meeting, error) {
	if patch.Date != nil {
		if err := validateDate(*patch.Date); err != nil {
			return nil, err
		}
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", models.ErrInvalidInput)
	}
	if patch.FolderID != nil {
		if err := s.checkFolder(ctx, s.db, ownerID, *patch.FolderID); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, ownerID, meetingID, colDetails, func(m *models.Meeting) (events.Type, error) {
		if patch.Title != nil {
			m.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Venue != nil {
			m.Venue = strings.TrimSpace(*patch.Venue)
		}
		if patch.Date != nil {
			m.Date = *patch.Date
		}
		if patch.Agenda != nil {
			m.Agenda = *patch.Agenda
		}
		if patch.ClearFolder {
			m.FolderID = nil
		} else if patch.FolderID != nil {
			id := *patch.FolderID
			m.FolderID = &id
		}
		return "", nil
	})
}

// SetAttendance replaces the set of members marked present.
func (s *Store) SetAttendance(ctx context.Context, ownerID, meetingID int64, memberIDs []int64) (*models.Meeting, error) {
	ids := dedupeIDs(memberIDs)
	if len(ids) > 0 {
		found, err := s.MembersByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(found) != len(ids) {
			return nil, fmt.Errorf("member %w", models.ErrNotFound)
		}
	}
	return s.mutate(ctx, ownerID, meetingID, colAttendance, func(m *models.Meeting) (events.Type, error) {
		m.Attendance = ids
		return "", nil
	})
}

// DeleteMeeting removes the meeting and its audio blob.
func (s *Store) DeleteMeeting(ctx context.Context, ownerID, meetingID int64) error {
	var audioKey string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		m, err := s.loadOwnedTx(ctx, tx, ownerID, meetingID)
		if err != nil {
			return err
		}
		audioKey = m.AudioKey
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM meetings WHERE id = ? AND user_id = ?`), meetingID, ownerID); err != nil {
			return fmt.Errorf("delete meeting: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateStatus(ctx, meetingID)
	if audioKey != "" && s.blobs != nil {
		if err := s.blobs.Delete(audioKey); err != nil {
			s.log.Warn().Err(err).Int64("meeting_id", meetingID).Str("key", audioKey).Msg("delete audio blob failed")
		}
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
