// Package meetings is the single read/write path for meetings, folders and members.
package meetings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/events"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/redis"
)

// BlobDeleter removes stored audio when its meeting goes away.
type BlobDeleter interface {
	Delete(key string) error
}

// Store persists meetings and emits a domain event after each pipeline write commits.
type Store struct {
	db    *sqlx.DB
	bus   events.Bus
	blobs BlobDeleter
	cache *redis.Client
	log   zerolog.Logger
	now   func() time.Time
}

type Option func(*Store)

func WithBus(bus events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

func WithBlobs(blobs BlobDeleter) Option {
	return func(s *Store) { s.blobs = blobs }
}

// WithCache enables the redis status cache.
func WithCache(client *redis.Client) Option {
	return func(s *Store) { s.cache = client }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides the timestamp source for writes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		log: zerolog.Nop(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "meeting-store").Logger()
	return s
}

const meetingColumns = `id, user_id, title, venue, meeting_date, agenda, folder_id, audio_url, audio_key,
	status, raw_transcript, final_minutes, attendance, stage_token, failure_kind, failure_message,
	created_at, updated_at`

type meetingRow struct {
	ID             int64          `db:"id"`
	UserID         int64          `db:"user_id"`
	Title          string         `db:"title"`
	Venue          string         `db:"venue"`
	Date           string         `db:"meeting_date"`
	Agenda         string         `db:"agenda"`
	FolderID       sql.NullInt64  `db:"folder_id"`
	AudioURL       string         `db:"audio_url"`
	AudioKey       string         `db:"audio_key"`
	Status         string         `db:"status"`
	Transcript     string         `db:"raw_transcript"`
	Minutes        sql.NullString `db:"final_minutes"`
	Attendance     sql.NullString `db:"attendance"`
	StageToken     int64          `db:"stage_token"`
	FailureKind    string         `db:"failure_kind"`
	FailureMessage string         `db:"failure_message"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *meetingRow) toModel() (*models.Meeting, error) {
	m := &models.Meeting{
		ID:             r.ID,
		UserID:         r.UserID,
		Title:          r.Title,
		Venue:          r.Venue,
		Date:           r.Date,
		Agenda:         r.Agenda,
		AudioURL:       r.AudioURL,
		AudioKey:       r.AudioKey,
		Status:         models.Status(r.Status),
		StageToken:     r.StageToken,
		FailureKind:    models.FailureKind(r.FailureKind),
		FailureMessage: r.FailureMessage,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.FolderID.Valid {
		id := r.FolderID.Int64
		m.FolderID = &id
	}
	m.Transcript = []models.Utterance{}
	if r.Transcript != "" {
		if err := json.Unmarshal([]byte(r.Transcript), &m.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript of meeting %d: %w", r.ID, err)
		}
	}
	if r.Minutes.Valid {
		m.Minutes = []models.MinuteItem{}
		if err := json.Unmarshal([]byte(r.Minutes.String), &m.Minutes); err != nil {
			return nil, fmt.Errorf("decode minutes of meeting %d: %w", r.ID, err)
		}
	}
	if r.Attendance.Valid && r.Attendance.String != "" {
		if err := json.Unmarshal([]byte(r.Attendance.String), &m.Attendance); err != nil {
			return nil, fmt.Errorf("decode attendance of meeting %d: %w", r.ID, err)
		}
	}
	return m, nil
}

func encodeTranscript(t []models.Utterance) (string, error) {
	if t == nil {
		t = []models.Utterance{}
	}
	raw, err := json.Marshal(t)
	return string(raw), err
}

func encodeOptional[T any](v []T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) loadTx(ctx context.Context, q sqlx.QueryerContext, meetingID int64) (*models.Meeting, error) {
	var row meetingRow
	query := sqlx.Rebind(sqlx.BindType(s.db.DriverName()), `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, meetingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("load meeting: %w", err)
	}
	return row.toModel()
}

// loadOwnedTx distinguishes a missing meeting from one owned by somebody else.
func (s *Store) loadOwnedTx(ctx context.Context, q sqlx.QueryerContext, ownerID, meetingID int64) (*models.Meeting, error) {
	m, err := s.loadTx(ctx, q, meetingID)
	if err != nil {
		return nil, err
	}
	if m.UserID != ownerID {
		return nil, models.ErrUnauthorized
	}
	return m, nil
}

// columns selects the field groups a mutation writes. Writers of different groups
// never overwrite each other.
type columns uint8

const (
	colDetails    columns = 1 << iota // title, venue, date, agenda, folder
	colAudio                          // audio url and key
	colStatus                         // status, stage token, failure kind and message
	colTranscript
	colMinutes
	colAttendance
)

// saveTx writes the groups in cols. Status writes only land while the stage token and
// status are still the ones observed at load time; minutes edits only need the status.
func (s *Store) saveTx(ctx context.Context, tx *sqlx.Tx, m *models.Meeting, cols columns, loaded models.Meeting) error {
	var (
		set  []string
		args []any
	)
	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}
	if cols&colDetails != 0 {
		var folder sql.NullInt64
		if m.FolderID != nil {
			folder = sql.NullInt64{Int64: *m.FolderID, Valid: true}
		}
		add("title", m.Title)
		add("venue", m.Venue)
		add("meeting_date", m.Date)
		add("agenda", m.Agenda)
		add("folder_id", folder)
	}
	if cols&colAudio != 0 {
		add("audio_url", m.AudioURL)
		add("audio_key", m.AudioKey)
	}
	if cols&colStatus != 0 {
		add("status", string(m.Status))
		add("stage_token", m.StageToken)
		add("failure_kind", string(m.FailureKind))
		add("failure_message", m.FailureMessage)
	}
	if cols&colTranscript != 0 {
		transcript, err := encodeTranscript(m.Transcript)
		if err != nil {
			return fmt.Errorf("encode transcript: %w", err)
		}
		add("raw_transcript", transcript)
	}
	if cols&colMinutes != 0 {
		minutes, err := encodeOptional(m.Minutes)
		if err != nil {
			return fmt.Errorf("encode minutes: %w", err)
		}
		add("final_minutes", minutes)
	}
	if cols&colAttendance != 0 {
		attendance, err := encodeOptional(m.Attendance)
		if err != nil {
			return fmt.Errorf("encode attendance: %w", err)
		}
		add("attendance", attendance)
	}
	m.UpdatedAt = s.now()
	add("updated_at", m.UpdatedAt)

	where := "id = ? AND user_id = ?"
	args = append(args, m.ID, m.UserID)
	guarded := true
	switch {
	case cols&colStatus != 0:
		where += " AND stage_token = ? AND status = ?"
		args = append(args, loaded.StageToken, string(loaded.Status))
	case cols&colMinutes != 0:
		where += " AND status = ?"
		args = append(args, string(loaded.Status))
	default:
		guarded = false
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE meetings SET `+strings.Join(set, ", ")+` WHERE `+where), args...)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if guarded {
			return models.ErrStaleStage
		}
		return models.ErrNotFound
	}
	return nil
}

// mutate loads an owned meeting, applies fn and saves it in one transaction. The
// returned event type, if any, is published after commit.
func (s *Store) mutate(ctx context.Context, ownerID, meetingID int64, cols columns, fn func(m *models.Meeting) (events.Type, error)) (*models.Meeting, error) {
	var (
		out *models.Meeting
		evt events.Type
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		m, err := s.loadOwnedTx(ctx, tx, ownerID, meetingID)
		if err != nil {
			return err
		}
		loaded := *m
		evt, err = fn(m)
		if err != nil {
			return err
		}
		if err := s.saveTx(ctx, tx, m, cols, loaded); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateStatus(ctx, meetingID)
	if evt != "" {
		s.publish(ctx, events.New(evt, out))
	}
	return out, nil
}

func (s *Store) publish(ctx context.Context, evt events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		// the meeting stays at its committed status; the stuck sweeper recovers it
		s.log.Error().Err(err).
			Str("event", string(evt.Type)).
			Int64("meeting_id", evt.MeetingID).
			Msg("publish event failed")
	}
}

func transition(m *models.Meeting, to models.Status) error {
	if !models.CanTransition(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, m.Status, to)
	}
	m.Status = to
	return nil
}
