package webhook

import (
	"io"
	"net/http"

	"deltaflow/internal/consts"
	"deltaflow/internal/webhook"
	"deltaflow/pkg/errors"
	"deltaflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	dispatcher *webhook.Dispatcher
	token      string
}

func NewHandler(d *webhook.Dispatcher, token string) *Handler {
	return &Handler{dispatcher: d, token: token}
}

// HandlerWebhook 接收POST /tv 并驱动信号链
func (h *Handler) HandlerWebhook() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if h.token != "" {
			if ctx.GetHeader(consts.WebhookTokenHeader) != h.token {
				ctx.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid webhook token"})
				return
			}
		}

		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "failed to read body"})
			return
		}

		ack, err := h.dispatcher.Handle(ctx.Request.Context(), body)
		if err != nil {
			_, message := errors.DecodeErr(err)
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": message})
			return
		}
		logger.Debugf("webhook处理完成: status=%s queued=%s dedup=%v", ack.Status, ack.Queued, ack.Dedup)
		ctx.JSON(http.StatusOK, ack)
	}
}
