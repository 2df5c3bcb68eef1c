package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/nickigann03/ai-secretary/internal/auth"
	"github.com/nickigann03/ai-secretary/internal/blob"
	"github.com/nickigann03/ai-secretary/internal/events"
	"github.com/nickigann03/ai-secretary/internal/logging"
	"github.com/nickigann03/ai-secretary/internal/metrics"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/service/agenda"
	"github.com/nickigann03/ai-secretary/internal/service/export"
	"github.com/nickigann03/ai-secretary/internal/service/intake"
	"github.com/nickigann03/ai-secretary/internal/service/meetings"
	"github.com/nickigann03/ai-secretary/internal/service/probe"
	"github.com/nickigann03/ai-secretary/internal/service/users"
	"github.com/nickigann03/ai-secretary/internal/storage"
	"github.com/nickigann03/ai-secretary/internal/worker"
)

const publicBase = "http://files.test"

type fakePipeline struct {
	store     *meetings.Store
	busy      error
	cancelled []int64
}

func (f *fakePipeline) CancelOwner(ownerID int64) { f.cancelled = append(f.cancelled, ownerID) }

func (f *fakePipeline) Accepting() error { return f.busy }

func (f *fakePipeline) RegenerateMinutes(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error) {
	if f.busy != nil {
		return nil, f.busy
	}
	return f.store.RestartMinutes(ctx, ownerID, meetingID)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router   *gin.Engine
	db       *sqlx.DB
	store    *meetings.Store
	pipeline *fakePipeline
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.OpenDSN("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	log := logging.Nop()
	blobs, err := blob.NewStore(t.TempDir(), publicBase)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	store := meetings.NewStore(db, meetings.WithBus(events.NewMemoryBus()), meetings.WithBlobs(blobs))
	importer, err := agenda.NewImporter(context.Background(), store, t.TempDir(), log)
	if err != nil {
		t.Fatalf("agenda importer: %v", err)
	}
	pipe := &fakePipeline{store: store}
	handler := NewHandler(Deps{
		Users:    users.NewService(db),
		Auth:     auth.NewService(db, nil, time.Hour),
		Meetings: store,
		Intake:   intake.NewService(store, blobs, log),
		Agenda:   importer,
		Exporter: export.NewRenderer("", log),
		Pipeline: pipe,
		Probe: probe.NewService(
			pingFunc(func(context.Context) error { return nil }),
			pingFunc(func(context.Context) error { return errors.New("groq ping: 401") }),
			time.Second,
		),
		Blobs:   blobs,
		Metrics: metrics.New(),
		Log:     log,
	})

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, db: db, store: store, pipeline: pipe}
}

func TestMeetingLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)
	base := fmt.Sprintf("/api/users/%d", userID)
	ctx := context.Background()

	createResp := doJSONRequest(t, srv.router, http.MethodPost, base+"/meetings", map[string]string{
		"title": "Board Meeting",
		"venue": "Club House",
		"date":  "2024-05-02",
	}, authHeader)
	assertStatus(t, createResp, http.StatusCreated)
	var meeting models.Meeting
	decodeJSON(t, createResp.Body.Bytes(), &meeting)
	if meeting.Status != models.StatusRecording {
		t.Fatalf("new meeting should be RECORDING, got %s", meeting.Status)
	}
	meetingPath := fmt.Sprintf("%s/meetings/%d", base, meeting.ID)

	audio := []byte("fake-mp3-bytes")
	uploadResp := doMultipart(t, srv.router, meetingPath+"/audio", "meeting.mp3", audio, authHeader)
	assertStatus(t, uploadResp, http.StatusAccepted)
	decodeJSON(t, uploadResp.Body.Bytes(), &meeting)
	if meeting.Status != models.StatusProcessingSTT {
		t.Fatalf("upload should move to PROCESSING_STT, got %s", meeting.Status)
	}
	if !strings.HasPrefix(meeting.AudioURL, publicBase+"/blobs/") {
		t.Fatalf("unexpected audio url %q", meeting.AudioURL)
	}

	blobPath := strings.TrimPrefix(meeting.AudioURL, publicBase)
	blobResp := doJSONRequest(t, srv.router, http.MethodGet, blobPath, nil, nil)
	assertStatus(t, blobResp, http.StatusOK)
	if !bytes.Equal(blobResp.Body.Bytes(), audio) {
		t.Fatalf("blob content mismatch")
	}

	statusResp := doJSONRequest(t, srv.router, http.MethodGet, meetingPath+"/status", nil, authHeader)
	assertStatus(t, statusResp, http.StatusOK)
	var view meetings.StatusView
	decodeJSON(t, statusResp.Body.Bytes(), &view)
	if view.Status != models.StatusProcessingSTT {
		t.Fatalf("status endpoint reported %s", view.Status)
	}

	// run both stages the way the workers would
	token, err := srv.store.ClaimStage(ctx, userID, meeting.ID, meeting.StageToken, models.StatusProcessingSTT)
	if err != nil {
		t.Fatalf("claim transcription: %v", err)
	}
	m, err := srv.store.SaveTranscript(ctx, userID, meeting.ID, token, []models.Utterance{{Speaker: "Speaker 0", Text: "Motion carried", Time: 3}})
	if err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	token, err = srv.store.ClaimStage(ctx, userID, meeting.ID, m.StageToken, models.StatusProcessingLLM)
	if err != nil {
		t.Fatalf("claim minutes: %v", err)
	}
	if _, err := srv.store.SaveMinutes(ctx, userID, meeting.ID, token, []models.MinuteItem{{Item: "1.0", Description: "Motion carried", Remark: "Info"}}); err != nil {
		t.Fatalf("save minutes: %v", err)
	}

	memberResp := doJSONRequest(t, srv.router, http.MethodPost, base+"/members", map[string]string{"name": "Alice", "role": "President"}, authHeader)
	assertStatus(t, memberResp, http.StatusCreated)
	var member models.Member
	decodeJSON(t, memberResp.Body.Bytes(), &member)

	attendResp := doJSONRequest(t, srv.router, http.MethodPut, meetingPath+"/attendance", map[string][]int64{"member_ids": {member.ID}}, authHeader)
	assertStatus(t, attendResp, http.StatusOK)

	editResp := doJSONRequest(t, srv.router, http.MethodPut, meetingPath+"/minutes", map[string]any{
		"minutes": []models.MinuteItem{
			{Item: "1.0", Description: "Motion carried unanimously", Remark: "Info"},
			{Item: "2.0", Description: "Send letters", Remark: "Alice"},
		},
	}, authHeader)
	assertStatus(t, editResp, http.StatusOK)

	finalResp := doJSONRequest(t, srv.router, http.MethodPost, meetingPath+"/finalize", nil, authHeader)
	assertStatus(t, finalResp, http.StatusOK)
	decodeJSON(t, finalResp.Body.Bytes(), &meeting)
	if meeting.Status != models.StatusFinalized || len(meeting.Minutes) != 2 {
		t.Fatalf("unexpected finalized meeting: %s with %d items", meeting.Status, len(meeting.Minutes))
	}

	exportResp := doJSONRequest(t, srv.router, http.MethodGet, meetingPath+"/export", nil, authHeader)
	assertStatus(t, exportResp, http.StatusOK)
	var exported export.Result
	decodeJSON(t, exportResp.Body.Bytes(), &exported)
	if exported.Filename != "Lions_Minutes_2024-05-02.docx" || exported.MimeType != export.MimeDocx || exported.Base64 == "" {
		t.Fatalf("unexpected export %+v", exported.Filename)
	}

	downloadResp := doJSONRequest(t, srv.router, http.MethodGet, meetingPath+"/export?download=1", nil, authHeader)
	assertStatus(t, downloadResp, http.StatusOK)
	if got := downloadResp.Header().Get("Content-Type"); got != export.MimeDocx {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(downloadResp.Header().Get("Content-Disposition"), "Lions_Minutes_2024-05-02.docx") {
		t.Fatalf("missing attachment filename")
	}

	deleteResp := doJSONRequest(t, srv.router, http.MethodDelete, meetingPath, nil, authHeader)
	assertStatus(t, deleteResp, http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, meetingPath, nil, authHeader), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, blobPath, nil, nil), http.StatusNotFound)
}

func TestMeetingOwnershipEnforced(t *testing.T) {
	srv := newTestServer(t)
	ownerID, ownerAuth := registerAndLogin(t, srv.router)
	otherID, otherAuth := registerAndLogin(t, srv.router)

	createResp := doJSONRequest(t, srv.router, http.MethodPost, fmt.Sprintf("/api/users/%d/meetings", ownerID),
		map[string]string{"title": "Private"}, ownerAuth)
	assertStatus(t, createResp, http.StatusCreated)
	var meeting models.Meeting
	decodeJSON(t, createResp.Body.Bytes(), &meeting)

	// another user's path
	resp := doJSONRequest(t, srv.router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/meetings/%d", ownerID, meeting.ID), nil, otherAuth)
	assertStatus(t, resp, http.StatusForbidden)

	// own path, foreign meeting
	otherPath := fmt.Sprintf("/api/users/%d/meetings/%d", otherID, meeting.ID)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, otherPath, nil, otherAuth), http.StatusNotFound)
	resp = doJSONRequest(t, srv.router, http.MethodPatch, otherPath, map[string]string{"title": "Mine"}, otherAuth)
	assertStatus(t, resp, http.StatusForbidden)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/meetings", ownerID), nil, nil), http.StatusUnauthorized)

	m, err := srv.store.GetMeeting(context.Background(), ownerID, meeting.ID)
	if err != nil || m == nil || m.Title != "Private" {
		t.Fatalf("foreign patch must leave the meeting untouched: %+v %v", m, err)
	}
}

func TestUploadAudioRejectedWhenBusy(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)
	m, err := srv.store.CreateMeeting(context.Background(), userID, meetings.MeetingInput{Title: "Busy day"})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	srv.pipeline.busy = worker.ErrDispatcherBusy

	resp := doMultipart(t, srv.router, fmt.Sprintf("/api/users/%d/meetings/%d/audio", userID, m.ID), "a.mp3", []byte("x"), authHeader)
	assertStatus(t, resp, http.StatusTooManyRequests)

	got, err := srv.store.GetMeeting(context.Background(), userID, m.ID)
	if err != nil || got.Status != models.StatusRecording {
		t.Fatalf("meeting should stay RECORDING: %+v %v", got, err)
	}
}

func TestRegenerateAndExportRequirePipelineState(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)
	m, err := srv.store.CreateMeeting(context.Background(), userID, meetings.MeetingInput{Title: "Fresh"})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	meetingPath := fmt.Sprintf("/api/users/%d/meetings/%d", userID, m.ID)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPost, meetingPath+"/minutes/regenerate", nil, authHeader), http.StatusConflict)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, meetingPath+"/export", nil, authHeader), http.StatusConflict)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPost, meetingPath+"/finalize", nil, authHeader), http.StatusConflict)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/meetings/abc", userID), nil, authHeader), http.StatusBadRequest)
}

func TestFolderDeleteUnlinksMeetings(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)
	base := fmt.Sprintf("/api/users/%d", userID)

	folderResp := doJSONRequest(t, srv.router, http.MethodPost, base+"/folders", map[string]string{"name": "2024"}, authHeader)
	assertStatus(t, folderResp, http.StatusCreated)
	var folder models.Folder
	decodeJSON(t, folderResp.Body.Bytes(), &folder)

	meetingResp := doJSONRequest(t, srv.router, http.MethodPost, base+"/meetings",
		map[string]any{"title": "Filed", "folder_id": folder.ID}, authHeader)
	assertStatus(t, meetingResp, http.StatusCreated)
	var meeting models.Meeting
	decodeJSON(t, meetingResp.Body.Bytes(), &meeting)

	listResp := doJSONRequest(t, srv.router, http.MethodGet, fmt.Sprintf("%s/meetings?folder_id=%d", base, folder.ID), nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Meetings []models.Meeting `json:"meetings"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Meetings) != 1 {
		t.Fatalf("expected 1 meeting in folder, got %d", len(listBody.Meetings))
	}

	renameResp := doJSONRequest(t, srv.router, http.MethodPatch, fmt.Sprintf("%s/folders/%d", base, folder.ID),
		map[string]string{"name": "Archive"}, authHeader)
	assertStatus(t, renameResp, http.StatusOK)

	deleteResp := doJSONRequest(t, srv.router, http.MethodDelete, fmt.Sprintf("%s/folders/%d", base, folder.ID), nil, authHeader)
	assertStatus(t, deleteResp, http.StatusOK)
	var deleted struct {
		Unlinked int64 `json:"unlinked_meetings"`
	}
	decodeJSON(t, deleteResp.Body.Bytes(), &deleted)
	if deleted.Unlinked != 1 {
		t.Fatalf("expected 1 unlinked meeting, got %d", deleted.Unlinked)
	}

	getResp := doJSONRequest(t, srv.router, http.MethodGet, fmt.Sprintf("%s/meetings/%d", base, meeting.ID), nil, authHeader)
	assertStatus(t, getResp, http.StatusOK)
	var reloaded models.Meeting
	decodeJSON(t, getResp.Body.Bytes(), &reloaded)
	if reloaded.ID != meeting.ID {
		t.Fatalf("expected meeting %d to survive, got %d", meeting.ID, reloaded.ID)
	}
	if reloaded.FolderID != nil {
		t.Fatalf("expected folder to be cleared, got %d", *reloaded.FolderID)
	}
}

func TestAgendaUpload(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)
	m, err := srv.store.CreateMeeting(context.Background(), userID, meetings.MeetingInput{Title: "Planned"})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	agendaPath := fmt.Sprintf("/api/users/%d/meetings/%d/agenda", userID, m.ID)

	resp := doMultipart(t, srv.router, agendaPath, "agenda.md", []byte("1. Welcome\n2. Treasurer report\n"), authHeader)
	assertStatus(t, resp, http.StatusOK)
	var meeting models.Meeting
	decodeJSON(t, resp.Body.Bytes(), &meeting)
	if !strings.Contains(meeting.Agenda, "Treasurer report") {
		t.Fatalf("agenda not stored: %q", meeting.Agenda)
	}

	resp = doMultipart(t, srv.router, agendaPath, "agenda.exe", []byte("MZ"), authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestConnectionDiagnostics(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)

	resp := doJSONRequest(t, srv.router, http.MethodGet, fmt.Sprintf("/api/users/%d/diagnostics/connections", userID), nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var report probe.Report
	decodeJSON(t, resp.Body.Bytes(), &report)
	if report.Speech.Status != probe.StatusOK || report.LLM.Status != probe.StatusError {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, nil), http.StatusOK)
	resp := doJSONRequest(t, srv.router, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), "aisecretary_dispatch_rejected_total") {
		t.Fatalf("metrics output missing pipeline counters")
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)
	path := fmt.Sprintf("/api/users/%d", userID)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPost, path+"/logout", nil, authHeader), http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, path+"/meetings", nil, authHeader), http.StatusUnauthorized)
}

func TestDeleteUserRemovesMeetings(t *testing.T) {
	srv := newTestServer(t)
	userID, authHeader := registerAndLogin(t, srv.router)
	m, err := srv.store.CreateMeeting(context.Background(), userID, meetings.MeetingInput{Title: "Gone soon"})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, fmt.Sprintf("/api/users/%d", userID), nil, authHeader), http.StatusNoContent)
	var count int
	if err := srv.db.Get(&count, `SELECT COUNT(*) FROM meetings WHERE id = ?`, m.ID); err != nil {
		t.Fatalf("count meetings: %v", err)
	}
	if count != 0 {
		t.Fatalf("meeting should be deleted with its owner")
	}
	if len(srv.pipeline.cancelled) != 1 || srv.pipeline.cancelled[0] != userID {
		t.Fatalf("queued jobs of the owner should be cancelled, got %v", srv.pipeline.cancelled)
	}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doMultipart(t *testing.T, router *gin.Engine, path, filename string, content []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	authHeader := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", loginBody.AuthToken)}
	return regBody.ID, authHeader
}
