// Package intake stores an uploaded recording and hands the meeting to transcription.
package intake

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/models"
)

// Blobs is the audio storage the recording is written to.
type Blobs interface {
	UploadTarget(ownerID int64, filename string) (string, error)
	Put(key string, r io.Reader) (int64, error)
	URL(key string) (string, error)
	Delete(key string) error
}

type Store interface {
	GetMeeting(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error)
	AttachAudio(ctx context.Context, ownerID, meetingID int64, audioKey, audioURL string) (*models.Meeting, error)
}

type Service struct {
	store Store
	blobs Blobs
	log   zerolog.Logger
}

func NewService(store Store, blobs Blobs, log zerolog.Logger) *Service {
	return &Service{store: store, blobs: blobs, log: log.With().Str("stage", "intake").Logger()}
}

// Upload writes the recording, resolves its URL and moves the meeting to
// PROCESSING_STT. Transcription is scheduled by the resulting event, so the
// call returns as soon as the meeting row is updated. When any step fails the
// meeting keeps its status and the new blob is removed.
func (s *Service) Upload(ctx context.Context, ownerID, meetingID int64, filename string, r io.Reader) (*models.Meeting, error) {
	m, err := s.store.GetMeeting(ctx, ownerID, meetingID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("meeting %w", models.ErrNotFound)
	}
	if !models.CanUpload(m.Status) {
		return nil, fmt.Errorf("%w: cannot upload audio while %s", models.ErrInvalidTransition, m.Status)
	}

	key, err := s.blobs.UploadTarget(ownerID, filename)
	if err != nil {
		return nil, fmt.Errorf("reserve upload: %w", err)
	}
	size, err := s.blobs.Put(key, r)
	if err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}
	url, err := s.blobs.URL(key)
	if err != nil {
		s.discard(key)
		return nil, fmt.Errorf("resolve audio url: %w", err)
	}
	updated, err := s.store.AttachAudio(ctx, ownerID, meetingID, key, url)
	if err != nil {
		s.discard(key)
		return nil, err
	}
	s.log.Info().
		Int64("meeting_id", meetingID).
		Int64("owner_id", ownerID).
		Int64("bytes", size).
		Msg("audio stored")
	return updated, nil
}

func (s *Service) discard(key string) {
	if err := s.blobs.Delete(key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discard audio failed")
	}
}
