package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"cipherchat/backend/internal/chat"
)

var statusByCode = map[string]int{
	chat.CodeUnauthorized: http.StatusUnauthorized,
	chat.CodeNotFound:     http.StatusNotFound,
	chat.CodeConflict:     http.StatusConflict,
	chat.CodeBadRequest:   http.StatusBadRequest,
	chat.CodeInternal:     http.StatusInternalServerError,
}

func ok(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "payload": payload})
}

func fail(c *gin.Context, err error) {
	code := chat.ErrorCode(err)
	msg := err.Error()
	if code == chat.CodeInternal {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		// 内部错误不向客户端暴露细节
		msg = "internal error"
	}
	c.JSON(statusByCode[code], gin.H{"success": false, "code": code, "message": msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "code": chat.CodeBadRequest, "message": err.Error()})
}
