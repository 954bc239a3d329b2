package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/database"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/repository"
	"github.com/aihub/retrieval-go/internal/services"
)

// App 聚合应用生命周期内的共享组件
type App struct {
	SearchService     *services.SearchService
	IngestService     *services.IngestService
	EvaluationService *services.EvaluationService
	Store             *repository.ChunkRepository

	cleanupTasks []func() error
}

var globalApp *App

// GetApp 返回全局应用实例，供控制器访问
func GetApp() *App {
	return globalApp
}

// Init 按依赖顺序装配：配置、日志、存储、索引、引擎、服务
func Init() (*App, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	app := &App{}

	db, err := database.InitDB()
	if err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, database.CloseDB)

	if _, err := database.InitRedis(); err != nil {
		// Redis只服务缓存层，连不上降级为内存缓存
		logger.Warn("Redis初始化失败，语义缓存回落内存实现", zap.Error(err))
	} else if database.RedisClient != nil {
		app.cleanupTasks = append(app.cleanupTasks, database.CloseRedis)
	}

	store := repository.NewChunkRepository(db)
	golden := repository.NewGoldenQueryRepository(db)
	app.Store = store

	chunker, err := knowledge.NewChunker(knowledge.ChunkerOptions{
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		MinChunkSize: cfg.Chunking.MinChunkSize,
		Overlap:      cfg.Chunking.Overlap,
		MaxKeywords:  cfg.Chunking.MaxKeywords,
	})
	if err != nil {
		return nil, err
	}

	embedder := buildEmbedder(cfg)
	keywords := buildKeywordSearcher(cfg)
	vectorIndex := buildVectorIndex(cfg)

	engine := knowledge.NewSearchEngine(
		embedder,
		knowledge.NewVectorSearchEngine(store, vectorIndex, cfg.Search.CandidateWindow),
		keywords,
		knowledge.NewFusionRanker(cfg.Search.RRFConstant),
		store,
		cfg.Search.MaxTopK,
	)

	cache, err := buildCache(cfg)
	if err != nil {
		return nil, err
	}

	app.SearchService = services.NewSearchService(engine, embedder, cache)
	app.IngestService = services.NewIngestService(chunker, embedder, store, keywords, vectorIndex)
	app.EvaluationService = services.NewEvaluationService(engine, golden)

	// 进程内BM25统计不持久化，启动时从库里回放
	if err := warmKeywordIndex(context.Background(), store, keywords); err != nil {
		logger.Warn("BM25索引回放失败", zap.Error(err))
	}

	globalApp = app
	logger.Info("应用装配完成",
		zap.Bool("native_vector", store.SupportsNativeVectorSearch()),
		zap.Bool("milvus", vectorIndex != nil),
		zap.Bool("elasticsearch", cfg.Fulltext.Enabled),
		zap.Bool("cache", cache != nil))
	return app, nil
}

// buildEmbedder 按配置构建embedder，无API密钥时使用占位实现
func buildEmbedder(cfg *config.Config) knowledge.Embedder {
	if cfg.Embedding.APIKey == "" {
		logger.Warn("未配置embedding密钥，向量化不可用，检索降级为纯关键词")
		return &knowledge.NoopEmbedder{}
	}
	embedder, err := knowledge.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	if err != nil {
		logger.Warn("embedder初始化失败", zap.Error(err))
		return &knowledge.NoopEmbedder{}
	}
	return embedder
}

// buildKeywordSearcher 进程内BM25为规范实现，配置启用时切换到ES
func buildKeywordSearcher(cfg *config.Config) knowledge.KeywordSearcher {
	if cfg.Fulltext.Enabled && len(cfg.Fulltext.Addresses) > 0 {
		searcher, err := knowledge.NewElasticKeywordSearcher(
			cfg.Fulltext.Addresses,
			cfg.Fulltext.Username,
			cfg.Fulltext.Password,
			cfg.Fulltext.APIKey,
			cfg.Fulltext.IndexPrefix,
		)
		if err != nil {
			logger.Warn("Elasticsearch初始化失败，回落进程内BM25", zap.Error(err))
		} else {
			return searcher
		}
	}
	return knowledge.NewBM25Searcher(cfg.Search.BM25K1, cfg.Search.BM25B)
}

// buildVectorIndex 可选的Milvus专用向量索引
func buildVectorIndex(cfg *config.Config) knowledge.VectorIndex {
	if !cfg.Milvus.Enabled {
		return nil
	}
	index, err := repository.NewMilvusVectorIndex(repository.MilvusOptions{
		Address:          cfg.Milvus.Address,
		Username:         cfg.Milvus.Username,
		Password:         cfg.Milvus.Password,
		Database:         cfg.Milvus.Database,
		CollectionPrefix: cfg.Milvus.Collection,
		UseTLS:           cfg.Milvus.UseTLS,
		Timeout:          10 * time.Second,
	})
	if err != nil {
		logger.Warn("Milvus初始化失败，向量检索走存储路径", zap.Error(err))
		return nil
	}
	return index
}

// buildCache 按配置构建语义缓存
func buildCache(cfg *config.Config) (services.SemanticCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second

	if cfg.Cache.Backend == "redis" && database.RedisClient != nil {
		return services.NewRedisSemanticCache(database.RedisClient, cfg.Cache.Threshold, ttl)
	}
	return services.NewMemorySemanticCache(cfg.Cache.MaxEntries, cfg.Cache.Threshold, ttl)
}

// warmKeywordIndex 从存储分页回放分块，重建进程内BM25统计。
// ES后端自带持久化索引，无需回放。
func warmKeywordIndex(ctx context.Context, store *repository.ChunkRepository, keywords knowledge.KeywordSearcher) error {
	if _, ok := keywords.(*knowledge.BM25Searcher); !ok {
		return nil
	}

	const batch = 500
	total := 0
	for offset := 0; ; offset += batch {
		chunks, err := store.ListChunks(ctx, offset, batch)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			break
		}

		docIDs := make([]uint, 0, len(chunks))
		for _, chunk := range chunks {
			docIDs = append(docIDs, chunk.DocumentID)
		}
		docs, err := store.GetDocuments(ctx, docIDs)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			if err := keywords.Index(ctx, chunk, docs[chunk.DocumentID]); err != nil {
				logger.Warn("BM25回放失败", zap.Uint("chunk_id", chunk.ChunkID), zap.Error(err))
			}
		}
		total += len(chunks)
	}
	if total > 0 {
		logger.Info("BM25索引回放完成", zap.Int("chunks", total))
	}
	return nil
}

// Shutdown 逆序执行清理任务
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Error("资源清理失败", zap.Error(err))
		}
	}
	logger.Sync()
}
