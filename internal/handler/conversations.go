package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/repository"
)

type ConversationHandler interface {
	GetAllConversations(c *gin.Context)
}

type conversationHandler struct {
	convRepo repository.ConversationRepository
	log      *logrus.Logger
}

func NewConversationHandler(convRepo repository.ConversationRepository, log *logrus.Logger) ConversationHandler {
	return &conversationHandler{convRepo: convRepo, log: log}
}

func (h *conversationHandler) GetAllConversations(c *gin.Context) {
	convs, err := h.convRepo.GetAllConversations(c.Request.Context())
	if err != nil {
		h.log.Errorf("Failed to list conversations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}
