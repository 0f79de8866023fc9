package debug

import (
	"deltaflow/internal/chain"
	"deltaflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 调试接口，暴露幂等缓存和链状态
type Handler struct {
	st *chain.State
}

func NewHandler(st *chain.State) *Handler {
	return &Handler{st: st}
}

func (h *Handler) Seen() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.st.DebugSeen())
	}
}

func (h *Handler) Chain() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.st.DebugChains())
	}
}
