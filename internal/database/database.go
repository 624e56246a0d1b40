// Package database owns the durable store behind a document's checkpoint
// chain and committed op-log: everything the engine needs to survive a
// restart or hand a document off to another instance without replaying its
// entire history from nothing.
package database

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/collabfabric/engine/internal/document"
	"github.com/collabfabric/engine/internal/metrics"
	"github.com/collabfabric/engine/internal/ot"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB holds the database connection
var DB *gorm.DB

// Initialize creates and configures the database connection
func Initialize() error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		// Fallback to individual components
		host := getEnvOrDefault("DB_HOST", "localhost")
		port := getEnvOrDefault("DB_PORT", "5432")
		user := getEnvOrDefault("DB_USER", "postgres")
		password := getEnvOrDefault("DB_PASSWORD", "")
		dbname := getEnvOrDefault("DB_NAME", "collabfabric")
		sslmode := getEnvOrDefault("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}

	gormLogger := logger.Default
	if os.Getenv("ENVIRONMENT") == "development" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db

	registerMetricsHooks(db)

	log.Println("database connected successfully")

	return nil
}

// documentRecord is the row backing one document's latest known version and
// content pointer. The op-log and checkpoint chain live in their own
// tables; this row exists so a cold-started instance can find a document by
// ID without scanning the checkpoint table.
type documentRecord struct {
	ID            string `gorm:"primaryKey"`
	LatestVersion uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (documentRecord) TableName() string { return "documents" }

// checkpointRecord is a full content snapshot at a given version.
type checkpointRecord struct {
	DocumentID string `gorm:"primaryKey"`
	Version    uint64 `gorm:"primaryKey"`
	Content    string
	CreatedAt  time.Time
}

func (checkpointRecord) TableName() string { return "checkpoints" }

// opRecord is one committed operation, stored as JSON since its payload
// shape varies by Kind.
type opRecord struct {
	DocumentID string `gorm:"primaryKey"`
	Version    uint64 `gorm:"primaryKey"`
	AuthorID   string
	Payload    []byte // json-encoded ot.Operation
	CreatedAt  time.Time
}

func (opRecord) TableName() string { return "document_ops" }

// Migrate runs auto-migration for the checkpoint/op-log schema.
func Migrate() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	err := DB.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error
	if err != nil {
		log.Printf("warning: could not create uuid-ossp extension: %v", err)
	}

	err = DB.AutoMigrate(
		&documentRecord{},
		&checkpointRecord{},
		&opRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("database migrations completed")
	return nil
}

// createIndexes creates performance indexes for checkpoint/op-log lookups.
func createIndexes() error {
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_checkpoints_document_version ON checkpoints (document_id, version DESC)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_document_ops_document_version ON document_ops (document_id, version)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_document_ops_author ON document_ops (document_id, author_id)")
	return nil
}

// CheckpointStore persists a document's checkpoint chain and op-log so an
// instance can recover it without having kept it resident in memory.
type CheckpointStore struct {
	db *gorm.DB
}

// NewCheckpointStore wraps the package's shared connection. Returns nil if
// the database has not been initialized, which callers treat as
// "persistence disabled" rather than an error — the in-memory document
// state remains fully functional without it.
func NewCheckpointStore() *CheckpointStore {
	if DB == nil {
		return nil
	}
	return &CheckpointStore{db: DB}
}

// SaveCheckpoint upserts a document's row and appends a checkpoint snapshot.
func (s *CheckpointStore) SaveCheckpoint(documentID string, cp document.Checkpoint) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC()

	if err := s.db.Save(&documentRecord{ID: documentID, LatestVersion: cp.Version, UpdatedAt: now}).Error; err != nil {
		return fmt.Errorf("save document record: %w", err)
	}

	record := checkpointRecord{DocumentID: documentID, Version: cp.Version, Content: cp.Content, CreatedAt: now}
	return s.db.Create(&record).Error
}

// AppendOp persists one committed operation at its committed version.
func (s *CheckpointStore) AppendOp(documentID string, op ot.Operation) error {
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	record := opRecord{
		DocumentID: documentID,
		Version:    op.Seq,
		AuthorID:   op.AuthorID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	return s.db.Create(&record).Error
}

// LoadLatestCheckpoint returns the most recent checkpoint for a document,
// or ok=false if none exists (a brand new document).
func (s *CheckpointStore) LoadLatestCheckpoint(documentID string) (document.Checkpoint, bool, error) {
	if s == nil {
		return document.Checkpoint{}, false, nil
	}
	var record checkpointRecord
	err := s.db.Where("document_id = ?", documentID).Order("version DESC").First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return document.Checkpoint{}, false, nil
	}
	if err != nil {
		return document.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return document.Checkpoint{Version: record.Version, Content: record.Content}, true, nil
}

// LoadOpsSince returns every persisted op strictly after fromVersion, in
// version order, to replay on top of a loaded checkpoint.
func (s *CheckpointStore) LoadOpsSince(documentID string, fromVersion uint64) ([]ot.Operation, error) {
	if s == nil {
		return nil, nil
	}
	var records []opRecord
	err := s.db.Where("document_id = ? AND version > ?", documentID, fromVersion).
		Order("version ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load ops: %w", err)
	}
	ops := make([]ot.Operation, 0, len(records))
	for _, r := range records {
		var op ot.Operation
		if err := json.Unmarshal(r.Payload, &op); err != nil {
			return nil, fmt.Errorf("unmarshal operation at version %d: %w", r.Version, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// DeleteStaleCheckpoints removes checkpoint and op-log rows older than
// olderThan, except the latest checkpoint for each document (a document
// must always have at least one checkpoint to restore from). Returns the
// number of checkpoint rows and op rows deleted.
func (s *CheckpointStore) DeleteStaleCheckpoints(olderThan time.Duration) (checkpointsDeleted, opsDeleted int64, err error) {
	if s == nil {
		return 0, 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	cpResult := s.db.Where(
		"created_at < ? AND (document_id, version) NOT IN (SELECT document_id, MAX(version) FROM checkpoints GROUP BY document_id)",
		cutoff,
	).Delete(&checkpointRecord{})
	if cpResult.Error != nil {
		return 0, 0, fmt.Errorf("delete stale checkpoints: %w", cpResult.Error)
	}

	opResult := s.db.Where(
		"created_at < ? AND version <= (SELECT MIN(version) FROM checkpoints WHERE checkpoints.document_id = document_ops.document_id)",
		cutoff,
	).Delete(&opRecord{})
	if opResult.Error != nil {
		return cpResult.RowsAffected, 0, fmt.Errorf("delete stale ops: %w", opResult.Error)
	}

	return cpResult.RowsAffected, opResult.RowsAffected, nil
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Health checks database connectivity
func Health() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// getEnvOrDefault returns environment variable or default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// registerMetricsHooks registers GORM callbacks to record database metrics
func registerMetricsHooks(db *gorm.DB) {
	db.Callback().Create().Before("gorm:before_create").Register("metrics:before_create", func(db *gorm.DB) {
		db.InstanceSet("metrics:start_time", time.Now())
	})

	db.Callback().Create().After("gorm:after_create").Register("metrics:after_create", func(db *gorm.DB) {
		if start, ok := db.InstanceGet("metrics:start_time"); ok {
			duration := time.Since(start.(time.Time)).Seconds()
			metrics.Get().DatabaseQueryDuration.WithLabelValues("create", "insert").Observe(duration)
			status := "success"
			if db.Error != nil {
				status = "error"
			}
			metrics.Get().DatabaseQueriesTotal.WithLabelValues("create", "insert", status).Inc()
		}
	})

	db.Callback().Query().Before("gorm:before_query").Register("metrics:before_query", func(db *gorm.DB) {
		db.InstanceSet("metrics:start_time", time.Now())
	})

	db.Callback().Query().After("gorm:after_query").Register("metrics:after_query", func(db *gorm.DB) {
		if start, ok := db.InstanceGet("metrics:start_time"); ok {
			duration := time.Since(start.(time.Time)).Seconds()
			metrics.Get().DatabaseQueryDuration.WithLabelValues("query", "select").Observe(duration)
			status := "success"
			if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
				status = "error"
			}
			metrics.Get().DatabaseQueriesTotal.WithLabelValues("query", "select", status).Inc()
		}
	})

	db.Callback().Update().Before("gorm:before_update").Register("metrics:before_update", func(db *gorm.DB) {
		db.InstanceSet("metrics:start_time", time.Now())
	})

	db.Callback().Update().After("gorm:after_update").Register("metrics:after_update", func(db *gorm.DB) {
		if start, ok := db.InstanceGet("metrics:start_time"); ok {
			duration := time.Since(start.(time.Time)).Seconds()
			metrics.Get().DatabaseQueryDuration.WithLabelValues("update", "update").Observe(duration)
			status := "success"
			if db.Error != nil {
				status = "error"
			}
			metrics.Get().DatabaseQueriesTotal.WithLabelValues("update", "update", status).Inc()
		}
	})

	db.Callback().Delete().Before("gorm:before_delete").Register("metrics:before_delete", func(db *gorm.DB) {
		db.InstanceSet("metrics:start_time", time.Now())
	})

	db.Callback().Delete().After("gorm:after_delete").Register("metrics:after_delete", func(db *gorm.DB) {
		if start, ok := db.InstanceGet("metrics:start_time"); ok {
			duration := time.Since(start.(time.Time)).Seconds()
			metrics.Get().DatabaseQueryDuration.WithLabelValues("delete", "delete").Observe(duration)
			status := "success"
			if db.Error != nil {
				status = "error"
			}
			metrics.Get().DatabaseQueriesTotal.WithLabelValues("delete", "delete", status).Inc()
		}
	})
}
