package controllers

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/logger"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// HandleError 按错误分类映射HTTP状态码
func (c *BaseController) HandleError(err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.HTTPCode >= http.StatusInternalServerError {
		logger.Error("请求处理失败", zap.String("code", string(appErr.Code)), zap.Error(err))
	}
	c.JSONError(appErr.HTTPCode, appErr.Message)
}
