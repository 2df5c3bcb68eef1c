package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/redis"
)

const statusCacheTTL = 30 * time.Minute

// StatusView is the slice of a meeting the UI polls while the pipeline runs.
type StatusView struct {
	MeetingID   int64              `json:"meeting_id"`
	UserID      int64              `json:"user_id"`
	Status      models.Status      `json:"status"`
	FailureKind models.FailureKind `json:"failure_kind,omitempty"`
	StageToken  int64              `json:"stage_token"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func statusKey(meetingID int64) string {
	return fmt.Sprintf("meeting:status:%d", meetingID)
}

// Status returns the meeting's pipeline status, served from redis when cached.
// A missing or foreign meeting yields nil, nil like GetMeeting.
func (s *Store) Status(ctx context.Context, ownerID, meetingID int64) (*StatusView, error) {
	if view, ok := s.cachedStatus(ctx, ownerID, meetingID); ok {
		return view, nil
	}
	m, err := s.GetMeeting(ctx, ownerID, meetingID)
	if err != nil || m == nil {
		return nil, err
	}
	view := &StatusView{
		MeetingID:   m.ID,
		UserID:      m.UserID,
		Status:      m.Status,
		FailureKind: m.FailureKind,
		StageToken:  m.StageToken,
		UpdatedAt:   m.UpdatedAt,
	}
	s.cacheStatus(ctx, view)
	return view, nil
}

func (s *Store) cachedStatus(ctx context.Context, ownerID, meetingID int64) (*StatusView, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, statusKey(meetingID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.log.Warn().Err(err).Int64("meeting_id", meetingID).Msg("load status cache failed")
		}
		return nil, false
	}
	var view StatusView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		s.log.Warn().Err(err).Int64("meeting_id", meetingID).Msg("decode status cache failed")
		return nil, false
	}
	if view.UserID != ownerID {
		return nil, false
	}
	return &view, true
}

func (s *Store) cacheStatus(ctx context.Context, view *StatusView) {
	if s.cache == nil || view == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, statusKey(view.MeetingID), data, statusCacheTTL); err != nil {
		s.log.Warn().Err(err).Int64("meeting_id", view.MeetingID).Msg("store status cache failed")
	}
}

func (s *Store) invalidateStatus(ctx context.Context, meetingID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statusKey(meetingID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn().Err(err).Int64("meeting_id", meetingID).Msg("invalidate status cache failed")
	}
}
