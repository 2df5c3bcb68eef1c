package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/auth"
	"github.com/nickigann03/ai-secretary/internal/blob"
	"github.com/nickigann03/ai-secretary/internal/metrics"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/service/agenda"
	"github.com/nickigann03/ai-secretary/internal/service/export"
	"github.com/nickigann03/ai-secretary/internal/service/intake"
	"github.com/nickigann03/ai-secretary/internal/service/meetings"
	"github.com/nickigann03/ai-secretary/internal/service/probe"
	"github.com/nickigann03/ai-secretary/internal/service/users"
	"github.com/nickigann03/ai-secretary/internal/worker"
)

// PipelineControl is what the HTTP layer needs from the stage pipeline.
type PipelineControl interface {
	Accepting() error
	RegenerateMinutes(ctx context.Context, ownerID, meetingID int64) (*models.Meeting, error)
	CancelOwner(ownerID int64)
}

// Deps bundles the services behind the routes.
type Deps struct {
	Users    *users.Service
	Auth     *auth.Service
	Meetings *meetings.Store
	Intake   *intake.Service
	Agenda   *agenda.Importer
	Exporter *export.Renderer
	Pipeline PipelineControl
	Probe    *probe.Service
	Blobs    *blob.Store
	Metrics  *metrics.Pipeline
	Log      zerolog.Logger
}

// Handler wires HTTP routes to the meeting services.
type Handler struct {
	users    *users.Service
	auth     *auth.Service
	meetings *meetings.Store
	intake   *intake.Service
	agenda   *agenda.Importer
	exporter *export.Renderer
	pipeline PipelineControl
	probe    *probe.Service
	blobs    *blob.Store
	metrics  *metrics.Pipeline
	log      zerolog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		users:    d.Users,
		auth:     d.Auth,
		meetings: d.Meetings,
		intake:   d.Intake,
		agenda:   d.Agenda,
		exporter: d.Exporter,
		pipeline: d.Pipeline,
		probe:    d.Probe,
		blobs:    d.Blobs,
		metrics:  d.Metrics,
		log:      d.Log.With().Str("component", "api").Logger(),
	}
}

// check token userID is match with param userID
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		paramID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || paramID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if paramID != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
			return
		}
		c.Next()
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	if h.blobs != nil {
		router.GET("/blobs/*key", h.serveBlob)
	}

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	userRoutes := api.Group("/users/:id")
	userRoutes.Use(h.auth.Middleware(), h.requirePathUser(), h.auth.CSRFMiddleware())
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("", h.deleteUser)

	userRoutes.GET("/meetings", h.listMeetings)
	userRoutes.POST("/meetings", h.createMeeting)
	userRoutes.GET("/meetings/:meeting_id", h.getMeeting)
	userRoutes.PATCH("/meetings/:meeting_id", h.updateMeeting)
	userRoutes.DELETE("/meetings/:meeting_id", h.deleteMeeting)
	userRoutes.GET("/meetings/:meeting_id/status", h.meetingStatus)
	userRoutes.POST("/meetings/:meeting_id/audio", h.uploadAudio)
	userRoutes.POST("/meetings/:meeting_id/agenda", h.uploadAgenda)
	userRoutes.PUT("/meetings/:meeting_id/attendance", h.setAttendance)
	userRoutes.PUT("/meetings/:meeting_id/minutes", h.updateMinutes)
	userRoutes.POST("/meetings/:meeting_id/minutes/regenerate", h.regenerateMinutes)
	userRoutes.POST("/meetings/:meeting_id/finalize", h.finalizeMeeting)
	userRoutes.GET("/meetings/:meeting_id/export", h.exportMeeting)

	userRoutes.GET("/folders", h.listFolders)
	userRoutes.POST("/folders", h.createFolder)
	userRoutes.PATCH("/folders/:folder_id", h.renameFolder)
	userRoutes.DELETE("/folders/:folder_id", h.deleteFolder)

	userRoutes.GET("/members", h.listMembers)
	userRoutes.POST("/members", h.createMember)
	userRoutes.PATCH("/members/:member_id", h.updateMember)
	userRoutes.DELETE("/members/:member_id", h.deleteMember)

	userRoutes.GET("/diagnostics/connections", h.testConnections)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps service errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (h *Handler) respondError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrStaleStage),
		errors.Is(err, models.ErrNothingToExport),
		errors.Is(err, users.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		return
	case errors.Is(err, worker.ErrDispatcherClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, agenda.ErrUnsupportedFormat),
		errors.Is(err, blob.ErrInvalidKey):
		status = http.StatusBadRequest
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
