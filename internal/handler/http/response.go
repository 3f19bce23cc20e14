package http

import (
	"github.com/gin-gonic/gin"

	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
)

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, dto.Fail(message))
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, dto.OK("ok", data))
}

func MessageResponse(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, dto.OK(message, data))
}
