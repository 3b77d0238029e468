package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vidcutapi/config"
)

// InitDB opens the configured database and migrates the video table.
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	var dia gorm.Dialector

	if cfg.DBType == "pgsql" {
		dsn := fmt.Sprintf("host=%s user=%s password=%s port=%d",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBPort,
		)
		if cfg.DBName != "" {
			dsn = fmt.Sprintf("%s dbname=%s", dsn, cfg.DBName)
		}
		dia = postgres.Open(dsn)
	} else {
		dia = sqlite.Open(cfg.DBName)
	}

	newLogger := logger.New(
		logrus.New(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dia, &gorm.Config{Logger: newLogger, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("configure connections: %w", err)
	}
	if cfg.DBType == "pgsql" {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	} else {
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Video{}); err != nil {
		return nil, fmt.Errorf("migrate videos: %w", err)
	}
	zap.S().Named("gorm").Infow("database ready", "type", cfg.DBType, "name", cfg.DBName)
	return db, nil
}

// Store is the gorm-backed Gateway.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, platform, url, filename string, status Status) (uint, error) {
	v := &Video{Platform: platform, URL: url, Filename: filename, Status: status}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return 0, fmt.Errorf("create video: %w", err)
	}
	return v.ID, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uint, status Status) (bool, error) {
	return s.update(ctx, id, "status", status)
}

func (s *Store) UpdateFilename(ctx context.Context, id uint, filename string) (bool, error) {
	return s.update(ctx, id, "filename", filename)
}

func (s *Store) update(ctx context.Context, id uint, column string, value any) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Video{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return false, fmt.Errorf("update video %d %s: %w", id, column, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) FindByID(ctx context.Context, id uint) (*Video, error) {
	var v Video
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find video %d: %w", id, err)
	}
	return &v, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]Video, error) {
	var videos []Video
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}
