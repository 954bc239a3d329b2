package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aihub/retrieval-go/app/controllers"
)

// Init 注册全部路由，需在bootstrap完成后调用
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.RootController{}, "get:Health")
	web.Handler("/metrics", promhttp.Handler())

	searchController := &controllers.SearchController{}
	// 注意：具体路由必须在参数路由之前注册
	web.Router("/api/search/cache/stats", searchController, "get:CacheStats")
	web.Router("/api/search", searchController, "post:Search")

	documentController := &controllers.DocumentController{}
	web.Router("/api/documents", documentController, "post:Ingest")
	web.Router("/api/documents/:id", documentController, "delete:Delete")

	evaluationController := &controllers.EvaluationController{}
	web.Router("/api/evaluation/run", evaluationController, "post:Run")
	web.Router("/api/evaluation/compare", evaluationController, "post:Compare")
}
