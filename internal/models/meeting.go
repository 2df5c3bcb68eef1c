package models

import "time"

// Status is the lifecycle stage of a meeting.
type Status string

const (
	StatusRecording      Status = "RECORDING"
	StatusProcessingSTT  Status = "PROCESSING_STT"
	StatusProcessingLLM  Status = "PROCESSING_LLM"
	StatusReadyForReview Status = "READY_FOR_REVIEW"
	StatusFinalized      Status = "FINALIZED"
	StatusFailed         Status = "FAILED"
)

// DateLayout is the calendar format used for meeting dates.
const DateLayout = "2006-01-02"

// Utterance is one diarized speaker turn.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Time    float64 `json:"time"`
}

// MinuteItem is one line of the minutes table.
type MinuteItem struct {
	Item        string `json:"item"`
	Description string `json:"description"`
	Remark      string `json:"remark"`
}

// Meeting is the aggregate every pipeline stage reads from and writes back to.
type Meeting struct {
	ID             int64        `json:"id"`
	UserID         int64        `json:"user_id"`
	Title          string       `json:"title"`
	Venue          string       `json:"venue"`
	Date           string       `json:"date"`
	Agenda         string       `json:"agenda,omitempty"`
	FolderID       *int64       `json:"folder_id,omitempty"`
	AudioURL       string       `json:"audio_url"`
	AudioKey       string       `json:"-"`
	Status         Status       `json:"status"`
	Transcript     []Utterance  `json:"raw_transcript"`
	Minutes        []MinuteItem `json:"final_minutes,omitempty"`
	Attendance     []int64      `json:"attendance,omitempty"`
	StageToken     int64        `json:"stage_token"`
	FailureKind    FailureKind  `json:"failure_kind,omitempty"`
	FailureMessage string       `json:"failure_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// HasMinutes reports whether generation has produced a minutes list.
func (m *Meeting) HasMinutes() bool {
	return m != nil && m.Minutes != nil
}

// Member is shared reference data used by attendance lists.
type Member struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Folder groups meetings for a single owner.
type Folder struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User owns meetings and folders.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
