// Package agenda imports an agenda document into a meeting.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/service/meetings"
)

// MaxAgendaRunes caps how much agenda text is kept for the prompt.
const MaxAgendaRunes = 20000

const maxUploadBytes = 5 << 20

var allowedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".docx":     true,
}

var ErrUnsupportedFormat = errors.New("unsupported agenda format")

type Store interface {
	UpdateDetails(ctx context.Context, ownerID, meetingID int64, patch meetings.MeetingPatch) (*models.Meeting, error)
}

type Importer struct {
	store   Store
	loader  *file.FileLoader
	tempDir string
	log     zerolog.Logger
}

// NewImporter builds the eino file loader used to extract agenda text.
// Plain text and markdown go through the text parser, .docx through docxParser.
func NewImporter(ctx context.Context, store Store, tempDir string, log zerolog.Logger) (*Importer, error) {
	ext, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers:        map[string]parser.Parser{".docx": docxParser{}},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init agenda parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      ext,
	})
	if err != nil {
		return nil, fmt.Errorf("init agenda loader: %w", err)
	}
	return &Importer{store: store, loader: loader, tempDir: tempDir, log: log.With().Str("component", "agenda").Logger()}, nil
}

// Import extracts the text of the uploaded document and stores it as the meeting's agenda.
func (i *Importer) Import(ctx context.Context, ownerID, meetingID int64, filename string, r io.Reader) (*models.Meeting, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	text, err := i.Extract(ctx, ext, r)
	if err != nil {
		return nil, err
	}
	m, err := i.store.UpdateDetails(ctx, ownerID, meetingID, meetings.MeetingPatch{Agenda: &text})
	if err != nil {
		return nil, err
	}
	i.log.Info().Int64("meeting_id", meetingID).Int("runes", len([]rune(text))).Msg("agenda imported")
	return m, nil
}

// Extract returns the readable text of a document with the given extension.
func (i *Importer) Extract(ctx context.Context, ext string, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(i.tempDir, "agenda-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, io.LimitReader(r, maxUploadBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("buffer agenda: %w", err)
	}
	if n > maxUploadBytes {
		return "", fmt.Errorf("%w: agenda larger than %d bytes", models.ErrInvalidInput, maxUploadBytes)
	}

	docs, err := i.loader.Load(ctx, document.Source{URI: tmp.Name()})
	if err != nil {
		return "", fmt.Errorf("load agenda: %w", err)
	}
	var b strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: agenda has no readable text", models.ErrInvalidInput)
	}
	if runes := []rune(text); len(runes) > MaxAgendaRunes {
		text = string(runes[:MaxAgendaRunes])
	}
	return text, nil
}
