package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMiddleware разрешает запросы с любых источников
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// jsonBodyMiddleware отклоняет запросы с телом не в JSON
func jsonBodyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength != 0 && !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, GenericResponse{
				Success: false,
				Message: "Неверный Content-Type",
			})
			return
		}
		c.Next()
	}
}

// fail отвечает ошибкой в общем формате
func fail(c *gin.Context, status int, message string, err error) {
	if err != nil {
		_ = c.Error(err)
		message += ": " + err.Error()
	}
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: message})
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Message: message, Data: data})
}
