package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nickigann03/ai-secretary/internal/app"
	"github.com/nickigann03/ai-secretary/internal/config"
	"github.com/nickigann03/ai-secretary/internal/logging"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/service/meetings"
	"github.com/nickigann03/ai-secretary/internal/service/probe"
	"github.com/nickigann03/ai-secretary/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Databases["sqlite3"] = config.DatabaseConfig{DSN: filepath.Join(dir, "test.db")}
	cfg.BasicConfig.BlobDir = filepath.Join(dir, "blobs")
	cfg.BasicConfig.TemplatePath = filepath.Join(dir, "missing.docx")
	return cfg
}

func execute(t *testing.T, deps *Dependencies, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(deps)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCreatesSchema(t *testing.T) {
	cfg := testConfig(t)
	out, err := execute(t, &Dependencies{Config: cfg, Log: logging.Nop()}, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "sqlite3 schema is up to date")

	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM meetings`))
	require.Zero(t, count)
}

func TestProbeReportsMissingCredentials(t *testing.T) {
	gladia := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer gladia.Close()

	cfg := testConfig(t)
	cfg.Speech.BaseURL = gladia.URL
	cfg.Speech.APIKey = "gladia-key"
	groq := cfg.Providers["groq"]
	groq.APIKey = ""
	cfg.Providers["groq"] = groq

	out, err := execute(t, &Dependencies{Config: cfg, Log: logging.Nop()}, "probe", "--json")
	require.ErrorIs(t, err, errProbeFailed)

	var report probe.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, probe.StatusOK, report.Speech.Status)
	require.Equal(t, probe.StatusError, report.LLM.Status)
	require.Equal(t, "Missing language model API key", report.LLM.Message)
}

func TestExportWritesDocument(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	log := logging.Nop()

	seed, err := app.New(ctx, cfg, log)
	require.NoError(t, err)
	ownerID, meetingID := seedFinalizedMeeting(t, seed)
	seed.Close()

	outDir := t.TempDir()
	out, err := execute(t, &Dependencies{Config: cfg, Log: log}, "export",
		strconv.FormatInt(ownerID, 10), strconv.FormatInt(meetingID, 10), "-o", outDir)
	require.NoError(t, err)

	path := strings.TrimSpace(out)
	require.Equal(t, filepath.Join(outDir, "Lions_Minutes_2024-05-02.docx"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestExportRejectsUnknownMeeting(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, &Dependencies{Config: cfg, Log: logging.Nop()}, "export", "1", "99")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = execute(t, &Dependencies{Config: cfg, Log: logging.Nop()}, "export", "x", "1")
	require.Error(t, err)
}

func seedFinalizedMeeting(t *testing.T, a *app.App) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	ownerID, err := storage.InsertID(ctx, a.DB,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		"secretary", "hash", time.Now().UTC())
	require.NoError(t, err)

	m, err := a.Meetings.CreateMeeting(ctx, ownerID, meetings.MeetingInput{Title: "Board", Venue: "Hall", Date: "2024-05-02"})
	require.NoError(t, err)
	m, err = a.Meetings.AttachAudio(ctx, ownerID, m.ID, "1/a.mp3", "http://localhost/blobs/1/a.mp3")
	require.NoError(t, err)
	token, err := a.Meetings.ClaimStage(ctx, ownerID, m.ID, m.StageToken, models.StatusProcessingSTT)
	require.NoError(t, err)
	m, err = a.Meetings.SaveTranscript(ctx, ownerID, m.ID, token, []models.Utterance{{Speaker: "Speaker 0", Text: "Budget approved"}})
	require.NoError(t, err)
	token, err = a.Meetings.ClaimStage(ctx, ownerID, m.ID, m.StageToken, models.StatusProcessingLLM)
	require.NoError(t, err)
	_, err = a.Meetings.SaveMinutes(ctx, ownerID, m.ID, token, []models.MinuteItem{{Item: "1.0", Description: "Budget approved", Remark: "Info"}})
	require.NoError(t, err)
	_, err = a.Meetings.Finalize(ctx, ownerID, m.ID)
	require.NoError(t, err)
	return ownerID, m.ID
}
