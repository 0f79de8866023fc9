package ping

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Ping 健康检查
func Ping() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
