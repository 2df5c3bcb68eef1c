// Package export renders reviewed minutes into a Word document.
package export

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/models"
)

const (
	MimeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	NonePresent  = "None recorded"
	filePrefix   = "Lions_Minutes_"
	fileSuffix   = ".docx"
	presentJoins = ", "
)

// Result is an encoded document ready to be returned to a client.
type Result struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

// Bytes decodes the document payload.
func (r *Result) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Base64)
}

// Renderer fills the configured template when one exists and otherwise
// generates a plain document.
type Renderer struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	template []byte
}

// NewRenderer loads the template at path if present. A missing template is not an error.
func NewRenderer(path string, log zerolog.Logger) *Renderer {
	r := &Renderer{
		path: path,
		log:  log.With().Str("component", "export").Logger(),
	}
	r.reload()
	return r
}

// HasTemplate reports whether a template is currently loaded.
func (r *Renderer) HasTemplate() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.template) > 0
}

func (r *Renderer) reload() {
	if r.path == "" {
		return
	}
	data, err := os.ReadFile(r.path)
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err == nil:
		r.template = data
		r.log.Info().Str("path", r.path).Int("bytes", len(data)).Msg("minutes template loaded")
	case errors.Is(err, os.ErrNotExist):
		if r.template != nil {
			r.log.Info().Str("path", r.path).Msg("minutes template removed")
		}
		r.template = nil
	default:
		r.log.Warn().Err(err).Str("path", r.path).Msg("minutes template unreadable, keeping previous copy")
	}
}

func (r *Renderer) currentTemplate() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.template
}

// Render produces the document for m. present lists the attending members in display order.
func (r *Renderer) Render(ctx context.Context, m *models.Meeting, present []models.Member) (*Result, error) {
	if !m.HasMinutes() {
		return nil, models.ErrNothingToExport
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fields := documentFields{
		Title:   m.Title,
		Venue:   m.Venue,
		Date:    m.Date,
		Present: PresentNames(present),
		Items:   m.Minutes,
	}

	var doc []byte
	if tpl := r.currentTemplate(); len(tpl) > 0 {
		filled, err := fillTemplate(tpl, fields)
		if err != nil {
			r.log.Warn().Err(err).Int64("meeting_id", m.ID).Msg("template render failed, generating plain document")
		} else {
			doc = filled
		}
	}
	if doc == nil {
		generated, err := generate(fields)
		if err != nil {
			return nil, fmt.Errorf("generate document: %w", err)
		}
		doc = generated
	}

	return &Result{
		Filename: Filename(m.Date),
		MimeType: MimeDocx,
		Base64:   base64.StdEncoding.EncodeToString(doc),
	}, nil
}

// PresentNames joins member names for the Present line.
func PresentNames(members []models.Member) string {
	names := make([]string, 0, len(members))
	for _, mem := range members {
		if name := strings.TrimSpace(mem.Name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return NonePresent
	}
	return strings.Join(names, presentJoins)
}

// Filename names the export after the meeting date.
func Filename(date string) string {
	return filePrefix + date + fileSuffix
}

type documentFields struct {
	Title   string
	Venue   string
	Date    string
	Present string
	Items   []models.MinuteItem
}
