package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/video-service/internal/config"
	"go.uber.org/zap"
)

// NewRouter wires middleware and routes. Rate limiting only guards uploads;
// players issue many range requests per video.
func NewRouter(d Deps, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	// no proxy is trusted; ClientIP is always the peer address
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	RegisterHandlers(r, d, RateLimitMiddleware(rl.RPS, rl.Burst), log)
	return r
}
