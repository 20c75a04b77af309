package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"relaychat/model"
	"relaychat/service"
)

type ChatsController struct {
	chats  *service.ChatService
	logger *logrus.Logger
}

func NewChatsController(chats *service.ChatService, logger *logrus.Logger) *ChatsController {
	return &ChatsController{chats: chats, logger: logger}
}

func (ctrl *ChatsController) List(c *gin.Context) {
	chats, err := ctrl.chats.ListChats(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (ctrl *ChatsController) Get(c *gin.Context) {
	chat, err := ctrl.chats.GetChat(c.Request.Context(), c.Param("id"), c.GetString(userIDKey))
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (ctrl *ChatsController) Create(c *gin.Context) {
	var input service.CreateChatInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ctrl.logger.Warnf("[%s] Invalid input, %s", c.GetString(requestIDKey), err)
		respondError(c, ctrl.logger, err)
		return
	}
	chat, err := ctrl.chats.CreateChat(c.Request.Context(), c.GetString(userIDKey), input)
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (ctrl *ChatsController) Update(c *gin.Context) {
	var input service.UpdateChatInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ctrl.logger.Warnf("[%s] Invalid input, %s", c.GetString(requestIDKey), err)
		respondError(c, ctrl.logger, err)
		return
	}
	chat, err := ctrl.chats.UpdateChat(c.Request.Context(), c.Param("id"), c.GetString(userIDKey), input)
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (ctrl *ChatsController) Delete(c *gin.Context) {
	if err := ctrl.chats.DeleteChat(c.Request.Context(), c.Param("id"), c.GetString(userIDKey)); err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type listMessagesQuery struct {
	Limit *int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ListMessages returns the newest messages of a chat in chronological order.
func (ctrl *ChatsController) ListMessages(c *gin.Context) {
	var query listMessagesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	limit := service.DefaultMessageLimit
	if query.Limit != nil {
		limit = *query.Limit
	}

	messages, err := ctrl.chats.GetMessages(c.Request.Context(), c.Param("id"), c.GetString(userIDKey), limit)
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type messageBody struct {
	Message *model.Message `json:"message" binding:"required"`
}

func (ctrl *ChatsController) CreateMessage(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	rows, err := ctrl.chats.SaveMessages(c.Request.Context(), c.Param("id"), c.GetString(userIDKey), []model.Message{*body.Message})
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusCreated, rows[0])
}

func (ctrl *ChatsController) GetMessage(c *gin.Context) {
	row, err := ctrl.chats.GetMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), c.GetString(userIDKey))
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (ctrl *ChatsController) UpdateMessage(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	row, err := ctrl.chats.UpdateMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), c.GetString(userIDKey), *body.Message)
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (ctrl *ChatsController) DeleteMessage(c *gin.Context) {
	if err := ctrl.chats.DeleteMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), c.GetString(userIDKey)); err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
