package middlewares

import (
	"net/http"
	"strings"

	"mpserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MJAuthMiddleware はMJ（ゲームマスター）専用ルートを共有トークンで保護します。
// トークンは X-MJ-Token ヘッダか Authorization: Bearer で渡します。
func MJAuthMiddleware(config models.Config, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-MJ-Token")
		if token == "" {
			bearer := c.GetHeader("Authorization")
			if strings.HasPrefix(bearer, "Bearer ") {
				token = strings.TrimPrefix(bearer, "Bearer ")
			}
		}

		if config.MJToken == "" || token != config.MJToken {
			logger.Warn("MJ auth rejected", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid MJ token"})
			return
		}
		c.Next()
	}
}
