package middleware

import (
	"net/http"
	"strings"

	"convodesk/internal/config"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware applies the configured CORS policy.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsCfg := cfg.Security.CORS

	allowAll := len(corsCfg.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(corsCfg.AllowedOrigins))
	for _, origin := range corsCfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	methods := strings.Join(corsCfg.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := strings.Join(corsCfg.AllowedHeaders, ", ")
	if headers == "" || headers == "*" {
		headers = "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization"
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
