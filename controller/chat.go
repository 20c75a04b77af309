package controller

import (
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"relaychat/model"
	"relaychat/service"
)

const doneMarker = "[DONE]"

type ChatController struct {
	relay  *service.Relay
	logger *logrus.Logger
}

func NewChatController(relay *service.Relay, logger *logrus.Logger) *ChatController {
	return &ChatController{relay: relay, logger: logger}
}

// chatRequest accepts the current {message, chatId} body and the older {messages, id} one,
// where the last entry of messages is the new message.
type chatRequest struct {
	ChatID   string          `json:"chatId" binding:"max=255"`
	ID       string          `json:"id" binding:"max=255"`
	Message  *model.Message  `json:"message"`
	Messages []model.Message `json:"messages"`
}

func (r chatRequest) chatID() string {
	if r.ChatID != "" {
		return r.ChatID
	}
	return r.ID
}

func (r chatRequest) message() (model.Message, error) {
	if r.Message != nil {
		return *r.Message, nil
	}
	if len(r.Messages) > 0 {
		return r.Messages[len(r.Messages)-1], nil
	}
	return model.Message{}, service.NewValidationError("message is required")
}

// Stream relays a model response for one user message as server-sent events.
func (ch *ChatController) Stream(c *gin.Context) {
	requestID := c.GetString(requestIDKey)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ch.logger.Warnf("[%s] Invalid input, %s", requestID, err)
		respondError(c, ch.logger, err)
		return
	}
	msg, err := req.message()
	if err != nil {
		respondError(c, ch.logger, err)
		return
	}

	run, err := ch.relay.Prepare(c.Request.Context(), service.Input{
		RequestID: requestID,
		UserID:    c.GetString(userIDKey),
		ChatID:    req.chatID(),
		Message:   msg,
	})
	if err != nil {
		ch.logger.Warnf("[%s] Failed to prepare chat stream, %s", requestID, err)
		respondError(c, ch.logger, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Vercel-AI-Data-Stream", "v2")
	h.Set("X-Chat-Id", run.Chat.ID)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := run.Stream(c.Request.Context(), &sseWriter{c: c}); err != nil {
		ch.logger.Warnf("[%s] chat stream for %s finished with error, %s", requestID, run.Chat.ID, err)
		return
	}
	ch.logger.Infof("[%s] chat stream for %s finished", requestID, run.Chat.ID)
}

// sseWriter writes frames as `data:<json>` events and flushes each one.
type sseWriter struct {
	c *gin.Context
}

func (w *sseWriter) WriteFrame(frame service.Frame) error {
	return w.encode(frame)
}

func (w *sseWriter) WriteDone() error {
	return w.encode(doneMarker)
}

func (w *sseWriter) encode(data any) error {
	if err := w.c.Request.Context().Err(); err != nil {
		return err
	}
	if err := sse.Encode(w.c.Writer, sse.Event{Data: data}); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}
