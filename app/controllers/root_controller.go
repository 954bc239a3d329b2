package controllers

import (
	"net/http"

	"github.com/aihub/retrieval-go/internal/database"
)

// RootController 服务元信息与健康检查
type RootController struct {
	BaseController
}

// Index 服务基本信息
func (c *RootController) Index() {
	c.JSONSuccess(map[string]interface{}{
		"service": "retrieval-engine",
		"version": "1.0.0",
	})
}

// Health 依赖健康检查，任一核心依赖不可用时返回503
func (c *RootController) Health() {
	components := database.CheckHealth(c.Ctx.Request.Context())

	healthy := true
	for _, component := range components {
		if !component.Healthy {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, map[string]interface{}{
		"success":    healthy,
		"components": components,
	})
}
