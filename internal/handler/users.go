package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/repository"
)

// UserHandler is the admin-level collaborator that toggles role flags.
// ConflictingState from the registry (e.g. demoting an operator who is
// mid-conversation) surfaces as 409.
type UserHandler interface {
	GetAllUsers(c *gin.Context)
	GetUserStatus(c *gin.Context)
	SetOperator(c *gin.Context)
	SetAdmin(c *gin.Context)
}

type userHandler struct {
	userRepo repository.UserRepository
	log      *logrus.Logger
}

func NewUserHandler(userRepo repository.UserRepository, log *logrus.Logger) UserHandler {
	return &userHandler{userRepo: userRepo, log: log}
}

func (h *userHandler) GetAllUsers(c *gin.Context) {
	users, err := h.userRepo.GetAllUsers(c.Request.Context())
	if err != nil {
		h.log.Errorf("Failed to list users: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *userHandler) GetUserStatus(c *gin.Context) {
	tgID, ok := parseTgID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user, err := h.userRepo.GetByTgID(ctx, tgID)
	if err != nil {
		h.log.Errorf("Failed to get user %d: %v", tgID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	operating, err := h.userRepo.IsOperating(ctx, tgID)
	if err != nil {
		h.log.Errorf("Failed to query operating status for %d: %v", tgID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user status"})
		return
	}
	crying, err := h.userRepo.IsCrying(ctx, tgID)
	if err != nil {
		h.log.Errorf("Failed to query crying status for %d: %v", tgID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"is_operating": operating,
		"is_crying":    crying,
	})
}

type SetFlagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

func (h *userHandler) SetOperator(c *gin.Context) {
	h.setFlag(c, h.userRepo.SetOperator)
}

func (h *userHandler) SetAdmin(c *gin.Context) {
	h.setFlag(c, h.userRepo.SetAdmin)
}

func (h *userHandler) setFlag(c *gin.Context, set func(ctx context.Context, tgID int64, value bool) error) {
	tgID, ok := parseTgID(c)
	if !ok {
		return
	}

	var req SetFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Errorf("Failed to bind JSON for flag change: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := set(c.Request.Context(), tgID, *req.Value)
	if err != nil {
		var conflict *repository.ConflictingStateError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		case errors.As(err, &conflict):
			c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
		case errors.Is(err, repository.ErrBusy):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage is busy, retry later"})
		default:
			h.log.Errorf("Failed to change flag for %d: %v", tgID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change flag"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Flag updated"})
}

func parseTgID(c *gin.Context) (int64, bool) {
	tgID, err := strconv.ParseInt(c.Param("tg_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tg_id"})
		return 0, false
	}
	return tgID, true
}
