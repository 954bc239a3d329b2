package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/aihub/retrieval-go/app/bootstrap"
	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/knowledge"
)

// SearchController 混合检索接口
type SearchController struct {
	BaseController
}

// searchOptionsRequest 检索选项的请求形态。
// 布尔与数值字段用指针区分"未传"与"传了零值"，未传的字段落默认值。
type searchOptionsRequest struct {
	TopK          *int                    `json:"top_k"`
	MinSimilarity *float64                `json:"min_similarity"`
	VectorWeight  *float64                `json:"vector_weight"`
	TextWeight    *float64                `json:"text_weight"`
	EnableBM25    *bool                   `json:"enable_bm25"`
	EnableCache   *bool                   `json:"enable_cache"`
	Filters       knowledge.SearchFilters `json:"filters"`
}

// defaultOptions 配置覆盖内置默认值
func defaultOptions() knowledge.SearchOptions {
	opts := knowledge.DefaultSearchOptions()
	if cfg := config.AppConfig; cfg != nil {
		opts.TopK = cfg.Search.DefaultTopK
		opts.MinSimilarity = cfg.Search.MinSimilarity
		opts.VectorWeight = cfg.Search.VectorWeight
		opts.TextWeight = cfg.Search.TextWeight
	}
	return opts
}

// toOptions 在默认选项上覆盖请求显式给出的字段
func (r *searchOptionsRequest) toOptions() knowledge.SearchOptions {
	opts := defaultOptions()
	if r == nil {
		return opts
	}
	if r.TopK != nil {
		opts.TopK = *r.TopK
	}
	if r.MinSimilarity != nil {
		opts.MinSimilarity = *r.MinSimilarity
	}
	if r.VectorWeight != nil {
		opts.VectorWeight = *r.VectorWeight
	}
	if r.TextWeight != nil {
		opts.TextWeight = *r.TextWeight
	}
	if r.EnableBM25 != nil {
		opts.EnableBM25 = *r.EnableBM25
	}
	if r.EnableCache != nil {
		opts.EnableCache = *r.EnableCache
	}
	opts.Filters = r.Filters
	return opts
}

type searchRequest struct {
	Query string `json:"query"`
	searchOptionsRequest
}

// Search 执行一次混合检索
func (c *SearchController) Search() {
	var req searchRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	app := bootstrap.GetApp()
	response, err := app.SearchService.Search(c.Ctx.Request.Context(), req.Query, req.toOptions())
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(response)
}

// CacheStats 语义缓存命中统计
func (c *SearchController) CacheStats() {
	app := bootstrap.GetApp()
	c.JSONSuccess(app.SearchService.CacheStats())
}
