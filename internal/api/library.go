package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/service/meetings"
)

type folderRequest struct {
	Name string `json:"name"`
}

type memberRequest struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email"`
}

func (r memberRequest) input() meetings.MemberInput {
	return meetings.MemberInput{Name: r.Name, Role: r.Role, Email: r.Email}
}

func (h *Handler) listFolders(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	folders, err := h.meetings.ListFolders(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders})
}

func (h *Handler) createFolder(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	folder, err := h.meetings.CreateFolder(c.Request.Context(), userID, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, folder)
}

func (h *Handler) renameFolder(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	folderID, ok := pathID(c, "folder_id")
	if !ok {
		return
	}
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	folder, err := h.meetings.RenameFolder(c.Request.Context(), userID, folderID, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, folder)
}

// deleteFolder unlinks the folder's meetings and removes the folder.
func (h *Handler) deleteFolder(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	folderID, ok := pathID(c, "folder_id")
	if !ok {
		return
	}
	unlinked, err := h.meetings.DeleteFolder(c.Request.Context(), userID, folderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlinked_meetings": unlinked})
}

func (h *Handler) listMembers(c *gin.Context) {
	members, err := h.meetings.ListMembers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if members == nil {
		members = make([]models.Member, 0)
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *Handler) createMember(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	member, err := h.meetings.CreateMember(c.Request.Context(), req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *Handler) updateMember(c *gin.Context) {
	memberID, ok := pathID(c, "member_id")
	if !ok {
		return
	}
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	member, err := h.meetings.UpdateMember(c.Request.Context(), memberID, req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *Handler) deleteMember(c *gin.Context) {
	memberID, ok := pathID(c, "member_id")
	if !ok {
		return
	}
	if err := h.meetings.DeleteMember(c.Request.Context(), memberID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
