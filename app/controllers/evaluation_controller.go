package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/aihub/retrieval-go/app/bootstrap"
)

// EvaluationController 离线检索质量评估
type EvaluationController struct {
	BaseController
}

type evaluationRunRequest struct {
	Options        *searchOptionsRequest `json:"options"`
	IncludeDetails bool                  `json:"include_details"`
}

// Run 用给定检索选项跑完整个标注集，返回汇总指标
func (c *EvaluationController) Run() {
	var req evaluationRunRequest
	if len(c.Ctx.Input.RequestBody) > 0 {
		if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
			c.JSONError(http.StatusBadRequest, "invalid request body")
			return
		}
	}

	app := bootstrap.GetApp()
	report, err := app.EvaluationService.Run(
		c.Ctx.Request.Context(), req.Options.toOptions(), req.IncludeDetails)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(report)
}

type evaluationCompareRequest struct {
	Baseline  *searchOptionsRequest `json:"baseline"`
	Candidate *searchOptionsRequest `json:"candidate"`
}

// Compare A/B对比基线与候选两份检索配置
func (c *EvaluationController) Compare() {
	var req evaluationCompareRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Candidate == nil {
		c.JSONError(http.StatusBadRequest, "candidate options are required")
		return
	}

	app := bootstrap.GetApp()
	report, err := app.EvaluationService.Compare(
		c.Ctx.Request.Context(), req.Baseline.toOptions(), req.Candidate.toOptions())
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(report)
}
