package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
)

var DB *gorm.DB

// InitDB 建立PostgreSQL连接并迁移检索相关表
func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err := autoMigrate(db); err != nil {
		logger.Warn("数据库迁移存在警告", zap.Error(err))
	}

	DB = db
	logger.Info("数据库连接成功")
	return db, nil
}

// autoMigrate 迁移检索相关表，并在pgvector可用时补建向量列
func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Document{}, &models.Chunk{}, &models.GoldenQuery{}); err != nil {
		return err
	}

	// pgvector已安装时为chunks表补建原生向量列与索引；
	// 扩展缺失时静默跳过，检索走内存退化路径
	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM pg_extension WHERE extname = 'vector'").Scan(&count).Error; err != nil || count == 0 {
		logger.Info("pgvector扩展不可用，跳过向量列迁移")
		return nil
	}

	statements := []string{
		"ALTER TABLE chunks ADD COLUMN IF NOT EXISTS embedding_vec_768 vector(768)",
		"ALTER TABLE chunks ADD COLUMN IF NOT EXISTS embedding_vec_1536 vector(1536)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_vec_768 ON chunks USING hnsw (embedding_vec_768 vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_vec_1536 ON chunks USING hnsw (embedding_vec_1536 vector_cosine_ops)",
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			logger.Warn("向量列迁移语句失败", zap.String("stmt", stmt), zap.Error(err))
		}
	}
	return nil
}

// CloseDB 关闭数据库连接
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
