package api

import (
	"errors"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/service/meetings"
)

const (
	maxAudioBytes  = 500 << 20
	maxAgendaBytes = 5 << 20
)

type meetingRequest struct {
	Title    string `json:"title"`
	Venue    string `json:"venue"`
	Date     string `json:"date"`
	Agenda   string `json:"agenda"`
	FolderID *int64 `json:"folder_id"`
}

type meetingPatchRequest struct {
	Title       *string `json:"title"`
	Venue       *string `json:"venue"`
	Date        *string `json:"date"`
	Agenda      *string `json:"agenda"`
	FolderID    *int64  `json:"folder_id"`
	ClearFolder bool    `json:"clear_folder"`
}

type attendanceRequest struct {
	MemberIDs []int64 `json:"member_ids"`
}

type minutesRequest struct {
	Minutes []models.MinuteItem `json:"minutes"`
}

// meetingParams resolves the caller and the :meeting_id path parameter.
func (h *Handler) meetingParams(c *gin.Context) (int64, int64, bool) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return 0, 0, false
	}
	meetingID, ok := pathID(c, "meeting_id")
	if !ok {
		return 0, 0, false
	}
	return userID, meetingID, true
}

func (h *Handler) listMeetings(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var folderID *int64
	if raw := c.Query("folder_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid folder_id"})
			return
		}
		folderID = &id
	}
	list, err := h.meetings.ListMeetings(c.Request.Context(), userID, folderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = make([]*models.Meeting, 0)
	}
	c.JSON(http.StatusOK, gin.H{"meetings": list})
}

func (h *Handler) createMeeting(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	m, err := h.meetings.CreateMeeting(c.Request.Context(), userID, meetings.MeetingInput{
		Title:    req.Title,
		Venue:    req.Venue,
		Date:     req.Date,
		Agenda:   req.Agenda,
		FolderID: req.FolderID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) getMeeting(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	m, err := h.meetings.GetMeeting(c.Request.Context(), userID, meetingID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) updateMeeting(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	var req meetingPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	m, err := h.meetings.UpdateDetails(c.Request.Context(), userID, meetingID, meetings.MeetingPatch{
		Title:       req.Title,
		Venue:       req.Venue,
		Date:        req.Date,
		Agenda:      req.Agenda,
		FolderID:    req.FolderID,
		ClearFolder: req.ClearFolder,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) deleteMeeting(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	if err := h.meetings.DeleteMeeting(c.Request.Context(), userID, meetingID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) meetingStatus(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	view, err := h.meetings.Status(c.Request.Context(), userID, meetingID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// uploadAudio stores the recording and returns as soon as the meeting moved to
// PROCESSING_STT; transcription runs on the worker pool.
func (h *Handler) uploadAudio(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	if h.pipeline != nil {
		if err := h.pipeline.Accepting(); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAudioBytes)
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()
	m, err := h.intake.Upload(c.Request.Context(), userID, meetingID, path.Base(file.Filename), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, m)
}

func (h *Handler) uploadAgenda(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAgendaBytes+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxAgendaBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()
	m, err := h.agenda.Import(c.Request.Context(), userID, meetingID, path.Base(file.Filename), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) setAttendance(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	m, err := h.meetings.SetAttendance(c.Request.Context(), userID, meetingID, req.MemberIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) updateMinutes(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	var req minutesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	m, err := h.meetings.UpdateMinutes(c.Request.Context(), userID, meetingID, req.Minutes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) regenerateMinutes(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline not running"})
		return
	}
	m, err := h.pipeline.RegenerateMinutes(c.Request.Context(), userID, meetingID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, m)
}

func (h *Handler) finalizeMeeting(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	m, err := h.meetings.Finalize(c.Request.Context(), userID, meetingID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// exportMeeting returns the rendered document as base64 JSON, or the raw file
// with ?download=1.
func (h *Handler) exportMeeting(c *gin.Context) {
	userID, meetingID, ok := h.meetingParams(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	m, err := h.meetings.GetMeeting(ctx, userID, meetingID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	present, err := h.meetings.MembersByIDs(ctx, m.Attendance)
	if err != nil {
		h.respondError(c, err)
		return
	}
	res, err := h.exporter.Render(ctx, m, present)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if c.Query("download") != "1" {
		c.JSON(http.StatusOK, res)
		return
	}
	raw, err := res.Bytes()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	c.Data(http.StatusOK, res.MimeType, raw)
}

// serveBlob lets the speech service fetch uploaded recordings.
func (h *Handler) serveBlob(c *gin.Context) {
	key := c.Param("key")
	f, err := h.blobs.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
			return
		}
		h.respondError(c, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.respondError(c, err)
		return
	}
	http.ServeContent(c.Writer, c.Request, path.Base(key), info.ModTime(), f)
}

func (h *Handler) testConnections(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	c.JSON(http.StatusOK, h.probe.Run(c.Request.Context()))
}
